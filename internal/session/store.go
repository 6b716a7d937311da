package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/metrics"
	"github.com/policy-chatbot/backend/internal/storage/models"
	"github.com/policy-chatbot/backend/pkg/logger"
)

// ErrNotFound is recovered by the orchestrator (a new session is minted),
// never surfaced to callers.
var ErrNotFound = errors.New("session not found")

// Store keeps sessions in Redis: a created_at key plus an append-only list of
// JSON-encoded turns. Ids are always server-assigned; whatever the caller
// sends is only ever used for lookup.
type Store struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewStore(host string, port int, password string, db int, ttl, timeout time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Session store initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl),
	)

	return &Store{client: client, ttl: ttl, timeout: timeout}, nil
}

// NewStoreFromRedis wires an existing client, used by tests with miniredis.
func NewStoreFromRedis(client *redis.Client, ttl, timeout time.Duration) *Store {
	return &Store{client: client, ttl: ttl, timeout: timeout}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func metaKey(id string) string  { return fmt.Sprintf("session:%s", id) }
func turnsKey(id string) string { return fmt.Sprintf("session:%s:turns", id) }

// Create mints a new session with a server-assigned id.
func (s *Store) Create(ctx context.Context) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess := &models.Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}

	err := s.client.Set(ctx, metaKey(sess.ID), strconv.FormatInt(sess.CreatedAt.Unix(), 10), s.ttl).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	metrics.SessionsCreated.Inc()
	logger.Info("Session created", zap.String("session_id", sess.ID))
	return sess, nil
}

// Get loads a session and its full turn history.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	createdRaw, err := s.client.Get(ctx, metaKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	createdUnix, err := strconv.ParseInt(createdRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session created_at: %w", err)
	}

	turns, err := s.readTurns(ctx, id, 0, -1)
	if err != nil {
		return nil, err
	}

	return &models.Session{
		ID:        id,
		CreatedAt: time.Unix(createdUnix, 0).UTC(),
		Turns:     turns,
	}, nil
}

// Recent returns at most limit most-recent turns, oldest first.
func (s *Store) Recent(ctx context.Context, id string, limit int) ([]models.Turn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.Exists(ctx, metaKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	return s.readTurns(ctx, id, int64(-limit), -1)
}

func (s *Store) readTurns(ctx context.Context, id string, start, stop int64) ([]models.Turn, error) {
	raw, err := s.client.LRange(ctx, turnsKey(id), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	turns := make([]models.Turn, 0, len(raw))
	for _, item := range raw {
		var turn models.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("corrupt turn payload: %w", err)
		}
		turns = append(turns, turn)
	}

	return turns, nil
}

// Append writes turns as one atomic unit and refreshes the session TTL.
// Either every turn in the batch lands or none do.
func (s *Store) Append(ctx context.Context, id string, turns ...models.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.Exists(ctx, metaKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	payloads := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		payloads = append(payloads, data)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, turnsKey(id), payloads...)
	pipe.Expire(ctx, metaKey(id), s.ttl)
	pipe.Expire(ctx, turnsKey(id), s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append turns: %w", err)
	}

	logger.Debug("Turns appended",
		zap.String("session_id", id),
		zap.Int("count", len(turns)),
	)
	return nil
}
