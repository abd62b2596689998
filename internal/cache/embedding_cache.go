package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// EmbeddingCache memoizes query embeddings in redis. Redis failures are logged
// and the wrapped embedder is used directly, so a cache outage only costs
// latency.
type EmbeddingCache struct {
	next   QueryEmbedder
	client *redisv9.Client
	ttl    time.Duration
}

func NewEmbeddingCache(next QueryEmbedder, client *redisv9.Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{
		next:   next,
		client: client,
		ttl:    ttl,
	}
}

func (c *EmbeddingCache) Model() string {
	return c.next.Model()
}

func (c *EmbeddingCache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if c.client == nil {
		return c.next.EmbedQuery(ctx, text)
	}

	key := c.key(text)
	vec, ok, err := c.get(ctx, key)
	if err != nil {
		log.Printf("embedding cache get failed: %v", err)
	}
	if ok {
		return vec, nil
	}

	vec, err = c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.set(ctx, key, vec); err != nil {
		log.Printf("embedding cache set failed: %v", err)
	}
	return vec, nil
}

func (c *EmbeddingCache) get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get embedding failed: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached embedding failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, false, nil
	}
	return vec, true, nil
}

func (c *EmbeddingCache) set(ctx context.Context, key string, vec []float32) error {
	payload, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding cache failed: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set embedding failed: %w", err)
	}
	return nil
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha1.Sum([]byte(text))
	return fmt.Sprintf("rag:embedding:%s:%s", c.next.Model(), hex.EncodeToString(sum[:]))
}
