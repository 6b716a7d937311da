package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/metrics"
	"github.com/policy-chatbot/backend/pkg/logger"
)

// Client is the read-through cache for embedding vectors and query rewrites.
// Session state lives in internal/session, not here.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
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

	logger.Info("Redis cache client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func NewClientFromRedis(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	metrics.CacheHits.WithLabelValues("embedding").Inc()
	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

func (c *Client) SetRewrite(ctx context.Context, contextHash, rewritten string, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf("rewrite:%s", contextHash), rewritten, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set rewrite cache: %w", err)
	}

	logger.Debug("Rewrite cached", zap.String("context_hash", contextHash))
	return nil
}

func (c *Client) GetRewrite(ctx context.Context, contextHash string) (string, bool, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf("rewrite:%s", contextHash)).Result()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("rewrite").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get rewrite cache: %w", err)
	}

	metrics.CacheHits.WithLabelValues("rewrite").Inc()
	logger.Debug("Rewrite cache hit", zap.String("context_hash", contextHash))
	return val, true, nil
}
