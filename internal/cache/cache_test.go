package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	// Create a mini Redis server for testing
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if cache.Client() == nil {
		t.Error("Client should not be nil")
	}
}

func TestNewCache_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	host, port := mr.Host(), mr.Server().Addr().Port
	mr.Close()

	if _, err := NewCache(host, port, "", 0); err == nil {
		t.Error("Expected error connecting to a stopped server")
	}
}

func TestCache_AssetOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	asset := &models.Asset{
		ID:       7,
		UUID:     "5b0c1c9e-asset",
		Name:     "clip",
		Duration: 60,
		Files: []*models.VariantFile{
			{ID: 1, AssetID: 7, Resolution: 720, FPS: 30, Filename: "a-720.mp4"},
		},
	}

	if err := cache.SetAsset(ctx, asset); err != nil {
		t.Fatalf("SetAsset failed: %v", err)
	}

	retrieved, err := cache.GetAsset(ctx, asset.UUID)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Retrieved asset should not be nil")
	}
	if retrieved.ID != asset.ID || retrieved.Name != asset.Name {
		t.Errorf("Expected %+v, got %+v", asset, retrieved)
	}
	if len(retrieved.Files) != 1 || retrieved.Files[0].Filename != "a-720.mp4" {
		t.Errorf("Expected one cached variant, got %+v", retrieved.Files)
	}

	if err := cache.InvalidateAsset(ctx, asset.UUID); err != nil {
		t.Fatalf("InvalidateAsset failed: %v", err)
	}

	retrieved, err = cache.GetAsset(ctx, asset.UUID)
	if err != nil {
		t.Fatalf("GetAsset after invalidate failed: %v", err)
	}
	if retrieved != nil {
		t.Error("Asset should be gone after invalidation")
	}
}

func TestCache_AssetExpires(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	cache.WithAssetTTL(time.Minute)
	ctx := context.Background()

	if err := cache.SetAsset(ctx, &models.Asset{UUID: "ttl"}); err != nil {
		t.Fatalf("SetAsset failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	retrieved, err := cache.GetAsset(ctx, "ttl")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if retrieved != nil {
		t.Error("Asset should have expired")
	}
}

func TestCache_GetAssetCorrupt(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if err := mr.Set("asset:broken", "{not json"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := cache.GetAsset(context.Background(), "broken"); err == nil {
		t.Error("Expected unmarshal error")
	}
}

func TestCache_JobProgress(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	if err := cache.SetJobProgress(ctx, "job-1", 42.5, time.Minute); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}

	progress, err := cache.GetJobProgress(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJobProgress failed: %v", err)
	}
	if progress != 42.5 {
		t.Errorf("Expected progress 42.5, got %f", progress)
	}

	if _, err := cache.GetJobProgress(ctx, "unknown"); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss for unknown job, got %v", err)
	}
}

func TestCache_ReportProgressClamps(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	tests := []struct {
		in   float64
		want float64
	}{
		{-5, 0},
		{55, 55},
		{130, 100},
	}

	for _, tt := range tests {
		if err := cache.ReportProgress(ctx, "job-2", tt.in); err != nil {
			t.Fatalf("ReportProgress failed: %v", err)
		}
		got, err := cache.GetJobProgress(ctx, "job-2")
		if err != nil {
			t.Fatalf("GetJobProgress failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("ReportProgress(%v) stored %v, want %v", tt.in, got, tt.want)
		}
	}

	if ttl := mr.TTL("job:progress:job-2"); ttl != ProgressTTL {
		t.Errorf("Expected TTL %v, got %v", ProgressTTL, ttl)
	}
}

func TestCache_WorkerHeartbeats(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	beats, err := cache.ListWorkerHeartbeats(ctx)
	if err != nil {
		t.Fatalf("ListWorkerHeartbeats failed: %v", err)
	}
	if len(beats) != 0 {
		t.Fatalf("expected no heartbeats, got %d", len(beats))
	}

	sent := time.Now().UTC().Truncate(time.Second)
	for _, hb := range []*models.WorkerHeartbeat{
		{WorkerID: "worker-1", CurrentJob: "job-1", ProcessedJobs: 4, FailedJobs: 1, SentAt: sent},
		{WorkerID: "worker-2", SentAt: sent},
	} {
		if err := cache.SetWorkerHeartbeat(ctx, hb, time.Minute); err != nil {
			t.Fatalf("SetWorkerHeartbeat failed: %v", err)
		}
	}
	// Unrelated keys are not picked up
	if err := cache.ReportProgress(ctx, "job-1", 10); err != nil {
		t.Fatalf("ReportProgress failed: %v", err)
	}

	beats, err = cache.ListWorkerHeartbeats(ctx)
	if err != nil {
		t.Fatalf("ListWorkerHeartbeats failed: %v", err)
	}
	if len(beats) != 2 {
		t.Fatalf("expected 2 heartbeats, got %d", len(beats))
	}

	byID := make(map[string]*models.WorkerHeartbeat)
	for _, hb := range beats {
		byID[hb.WorkerID] = hb
	}
	w1 := byID["worker-1"]
	if w1 == nil || w1.CurrentJob != "job-1" || w1.ProcessedJobs != 4 || w1.FailedJobs != 1 || !w1.SentAt.Equal(sent) {
		t.Errorf("unexpected heartbeat for worker-1: %+v", w1)
	}

	// Heartbeats of stopped workers expire
	mr.FastForward(2 * time.Minute)
	beats, err = cache.ListWorkerHeartbeats(ctx)
	if err != nil {
		t.Fatalf("ListWorkerHeartbeats failed: %v", err)
	}
	if len(beats) != 0 {
		t.Errorf("expected heartbeats to expire, got %d", len(beats))
	}
}
