package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

const (
	// DefaultAssetTTL is used when no TTL is configured
	DefaultAssetTTL = 5 * time.Minute
	// ProgressTTL bounds how long a finished job's progress stays readable
	ProgressTTL = 24 * time.Hour
)

// ErrMiss is returned when a value is not cached
var ErrMiss = errors.New("cache miss")

// Cache provides caching functionality using Redis
type Cache struct {
	client   *redis.Client
	assetTTL time.Duration
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, assetTTL: DefaultAssetTTL}, nil
}

// WithAssetTTL overrides how long asset snapshots are cached
func (c *Cache) WithAssetTTL(ttl time.Duration) *Cache {
	if ttl > 0 {
		c.assetTTL = ttl
	}
	return c
}

// Client exposes the underlying connection so the Redis lock backend can share it
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

func assetKey(uuid string) string {
	return fmt.Sprintf("asset:%s", uuid)
}

func progressKey(jobID string) string {
	return fmt.Sprintf("job:progress:%s", jobID)
}

func heartbeatKey(workerID string) string {
	return fmt.Sprintf("worker:heartbeat:%s", workerID)
}

// Asset Cache Operations

// SetAsset caches an asset snapshot together with its variant files
func (c *Cache) SetAsset(ctx context.Context, asset *models.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("failed to marshal asset: %w", err)
	}

	return c.client.Set(ctx, assetKey(asset.UUID), data, c.assetTTL).Err()
}

// GetAsset retrieves an asset snapshot. A miss returns nil, nil.
func (c *Cache) GetAsset(ctx context.Context, uuid string) (*models.Asset, error) {
	data, err := c.client.Get(ctx, assetKey(uuid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get asset from cache: %w", err)
	}

	var asset models.Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset: %w", err)
	}

	return &asset, nil
}

// InvalidateAsset drops the cached snapshot after the registry changed
func (c *Cache) InvalidateAsset(ctx context.Context, uuid string) error {
	return c.client.Del(ctx, assetKey(uuid)).Err()
}

// Job Progress Operations

// SetJobProgress caches job progress for quick retrieval
func (c *Cache) SetJobProgress(ctx context.Context, jobID string, progress float64, ttl time.Duration) error {
	return c.client.Set(ctx, progressKey(jobID), progress, ttl).Err()
}

// GetJobProgress retrieves job progress from cache. Unknown or expired
// jobs return ErrMiss.
func (c *Cache) GetJobProgress(ctx context.Context, jobID string) (float64, error) {
	progress, err := c.client.Get(ctx, progressKey(jobID)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrMiss
	}
	return progress, err
}

// ReportProgress records encoder progress for a running pipeline job
func (c *Cache) ReportProgress(ctx context.Context, jobID string, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return c.SetJobProgress(ctx, jobID, progress, ProgressTTL)
}

// Worker Heartbeats

// SetWorkerHeartbeat stores hb. It disappears once ttl passes without a
// newer heartbeat.
func (c *Cache) SetWorkerHeartbeat(ctx context.Context, hb *models.WorkerHeartbeat, ttl time.Duration) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}
	return c.client.Set(ctx, heartbeatKey(hb.WorkerID), data, ttl).Err()
}

// ListWorkerHeartbeats returns every heartbeat that has not expired
func (c *Cache) ListWorkerHeartbeats(ctx context.Context) ([]*models.WorkerHeartbeat, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, heartbeatKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan heartbeats: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeats: %w", err)
	}

	beats := make([]*models.WorkerHeartbeat, 0, len(values))
	for _, v := range values {
		// Expired between SCAN and MGET
		data, ok := v.(string)
		if !ok {
			continue
		}
		var hb models.WorkerHeartbeat
		if err := json.Unmarshal([]byte(data), &hb); err != nil {
			return nil, fmt.Errorf("failed to unmarshal heartbeat: %w", err)
		}
		beats = append(beats, &hb)
	}
	return beats, nil
}

// Ping is the health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
