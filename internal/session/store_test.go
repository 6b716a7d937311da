package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-chatbot/backend/internal/storage/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewStoreFromRedis(client, time.Hour, 5*time.Second), mr
}

func TestCreateAssignsServerID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	other, err := store.Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, other.ID)
}

func TestGetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "never-created")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendAndGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	userTurn := models.Turn{Role: models.RoleUser, Text: "what is the leave policy?", Timestamp: time.Now().UTC()}
	assistantTurn := models.Turn{
		Role:      models.RoleAssistant,
		Text:      "Employees get 20 days. [leave_policy#3]",
		Timestamp: time.Now().UTC(),
		Sources:   []models.Citation{{DocumentID: "d1", ChunkID: "c1", FileName: "leave_policy", ChunkPart: 3}},
	}

	require.NoError(t, store.Append(ctx, sess.ID, userTurn, assistantTurn))

	loaded, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, models.RoleUser, loaded.Turns[0].Role)
	assert.Equal(t, models.RoleAssistant, loaded.Turns[1].Role)
	require.Len(t, loaded.Turns[1].Sources, 1)
	assert.Equal(t, "leave_policy", loaded.Turns[1].Sources[0].FileName)
}

func TestAppendToUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Append(context.Background(), "ghost", models.Turn{Role: models.RoleUser, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentReturnsWindowOldestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, sess.ID,
			models.Turn{Role: models.RoleUser, Text: "q"},
			models.Turn{Role: models.RoleAssistant, Text: "a"},
		))
	}

	turns, err := store.Recent(ctx, sess.ID, 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, models.RoleUser, turns[2].Role)
	assert.Equal(t, models.RoleAssistant, turns[3].Role)
}

func TestRecentUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Recent(context.Background(), "ghost", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	mr.FastForward(30 * time.Minute)

	require.NoError(t, store.Append(ctx, sess.ID,
		models.Turn{Role: models.RoleUser, Text: "q"},
		models.Turn{Role: models.RoleAssistant, Text: "a"},
	))

	mr.FastForward(45 * time.Minute)

	// 75 minutes after creation the session is still alive because the append
	// reset the clock.
	_, err = store.Get(ctx, sess.ID)
	assert.NoError(t, err)
}

func TestSessionExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
