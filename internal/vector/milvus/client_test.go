package milvus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchContextAppliesTimeout(t *testing.T) {
	m := &Client{searchTimeout: 10 * time.Second}

	ctx, cancel := m.searchContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok, "search context must carry a deadline")

	remaining := time.Until(deadline)
	assert.Greater(t, remaining, 9*time.Second)
	assert.LessOrEqual(t, remaining, 10*time.Second)
}

func TestSearchContextKeepsTighterCallerDeadline(t *testing.T) {
	m := &Client{searchTimeout: 10 * time.Second}

	parent, parentCancel := context.WithTimeout(context.Background(), time.Second)
	defer parentCancel()

	ctx, cancel := m.searchContext(parent)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), time.Second)
}

func TestQuoteList(t *testing.T) {
	assert.Equal(t, `"a", "b"`, quoteList([]string{"a", "b"}))
	assert.Equal(t, ``, quoteList(nil))
}
