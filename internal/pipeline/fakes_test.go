package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/lock"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/swarm"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// sectionTracker records how many goroutines are inside asset-mutating
// sections at once
type sectionTracker struct {
	mu     sync.Mutex
	active int
	max    int
}

func (s *sectionTracker) enter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active++
	if s.active > s.max {
		s.max = s.active
	}
}

func (s *sectionTracker) leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
}

func (s *sectionTracker) maxActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

// memRegistry is an in-memory registry enforcing the unique
// (asset, resolution, fps) key
type memRegistry struct {
	mu      sync.Mutex
	assets  map[string]*models.Asset
	files   map[int64]*models.VariantFile
	nextID  int64
	tracker *sectionTracker
	// replaceErr makes ReplaceWebVariant fail
	replaceErr error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		assets: make(map[string]*models.Asset),
		files:  make(map[int64]*models.VariantFile),
	}
}

func (r *memRegistry) addAsset(asset *models.Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	asset.ID = r.nextID
	stored := *asset
	stored.Files = nil
	r.assets[asset.UUID] = &stored
}

func (r *memRegistry) addFile(file *models.VariantFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	file.ID = r.nextID
	stored := *file
	r.files[file.ID] = &stored
}

func (r *memRegistry) filesOf(assetID int64) []*models.VariantFile {
	var files []*models.VariantFile
	for _, f := range r.files {
		if f.AssetID == assetID {
			cp := *f
			files = append(files, &cp)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files
}

func (r *memRegistry) LoadAssetFull(_ context.Context, assetUUID string) (*models.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[assetUUID]
	if !ok {
		return nil, fmt.Errorf("asset %s not found", assetUUID)
	}
	cp := *a
	cp.Files = r.filesOf(a.ID)
	return &cp, nil
}

func (r *memRegistry) LoadVariant(_ context.Context, id int64) (*models.VariantFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("file %d not found", id)
	}
	cp := *f
	return &cp, nil
}

func (r *memRegistry) SaveAssetDuration(_ context.Context, assetID int64, duration float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assets {
		if a.ID == assetID {
			a.Duration = duration
			return nil
		}
	}
	return fmt.Errorf("asset %d not found", assetID)
}

func (r *memRegistry) LookupWebVariant(_ context.Context, assetID int64, fps, resolution int) (*models.VariantFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.filesOf(assetID) {
		if f.FPS == fps && f.Resolution == resolution {
			return f, nil
		}
	}
	return nil, nil
}

func (r *memRegistry) ReplaceWebVariant(_ context.Context, old, file *models.VariantFile) error {
	if r.tracker != nil {
		r.tracker.enter()
		defer r.tracker.leave()
		time.Sleep(5 * time.Millisecond)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.replaceErr != nil {
		return r.replaceErr
	}

	if old != nil {
		delete(r.files, old.ID)
	}
	for _, f := range r.files {
		if f.ID != file.ID && f.AssetID == file.AssetID && f.Resolution == file.Resolution && f.FPS == file.FPS {
			return fmt.Errorf("duplicate variant %d/%d", file.Resolution, file.FPS)
		}
	}
	if file.ID == 0 {
		r.nextID++
		file.ID = r.nextID
	}
	cp := *file
	r.files[file.ID] = &cp
	return nil
}

func (r *memRegistry) ListVariants(_ context.Context, assetID int64) ([]*models.VariantFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filesOf(assetID), nil
}

func (r *memRegistry) duration(uuid string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assets[uuid].Duration
}

// fakeProber serves results recorded by fakeEncoder for its outputs
type fakeProber struct {
	mu      sync.Mutex
	results map[string]*transcoder.ProbeResult
	err     error
}

func (p *fakeProber) set(path string, result *transcoder.ProbeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[path] = result
}

func (p *fakeProber) Probe(_ context.Context, path string) (*transcoder.ProbeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	r, ok := p.results[path]
	if !ok {
		return nil, fmt.Errorf("%s was never encoded", path)
	}
	return r, nil
}

// fakeEncoder writes a small output and registers its probe result
type fakeEncoder struct {
	mu           sync.Mutex
	prober       *fakeProber
	tracker      *sectionTracker
	delay        time.Duration
	releaseEarly bool
	outDuration  float64
	err          error
	requests     []transcoder.Request
	// sawInputs records whether every input was readable during the encode
	sawInputs []bool
}

func (e *fakeEncoder) Encode(_ context.Context, req *transcoder.Request) error {
	if e.tracker != nil {
		e.tracker.enter()
		defer e.tracker.leave()
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	readable := fileExists(req.InputPath)
	if m, ok := req.Job.(transcoder.MergeAudio); ok {
		readable = readable && fileExists(m.AudioPath)
	}

	e.mu.Lock()
	e.requests = append(e.requests, *req)
	e.sawInputs = append(e.sawInputs, readable)
	e.mu.Unlock()

	if e.err != nil {
		os.WriteFile(req.OutputPath, []byte("partial"), 0644)
		return e.err
	}

	if err := os.WriteFile(req.OutputPath, []byte("encoded "+string(req.Job.Kind())), 0644); err != nil {
		return err
	}

	_, fps := req.Job.Target()
	e.prober.set(req.OutputPath, &transcoder.ProbeResult{
		Duration: e.outDuration,
		FPS:      fps,
		Metadata: models.FileMetadata{"format": map[string]interface{}{"format_name": "mp4"}},
	})

	if req.Progress != nil {
		req.Progress(50)
		req.Progress(100)
	}
	if e.releaseEarly {
		req.InputLock.Release()
	}
	return nil
}

func (e *fakeEncoder) calls() []transcoder.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]transcoder.Request(nil), e.requests...)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []*models.FollowOnJob
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job *models.FollowOnJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *fakeCache) InvalidateAsset(_ context.Context, uuid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, uuid)
	return nil
}

type fakeProgress struct {
	mu      sync.Mutex
	reports map[string][]float64
}

func (p *fakeProgress) ReportProgress(_ context.Context, jobID string, progress float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports[jobID] = append(p.reports[jobID], progress)
	return nil
}

// failingDescriptor always fails
type failingDescriptor struct{}

func (failingDescriptor) Create(context.Context, *models.Asset, *models.VariantFile, string) error {
	return errors.New("torrent write failed")
}

type harness struct {
	c          *Coordinator
	deps       Deps
	reg        *memRegistry
	enc        *fakeEncoder
	prober     *fakeProber
	dispatcher *fakeDispatcher
	cache      *fakeCache
	progress   *fakeProgress
	locker     *lock.KeyedMutex
	dirs       storage.Dirs
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()
	dirs := storage.Dirs{
		WebVideos: filepath.Join(root, "web-videos"),
		Previews:  filepath.Join(root, "previews"),
		Torrents:  filepath.Join(root, "torrents"),
		Tmp:       filepath.Join(root, "tmp"),
	}
	paths := storage.NewPathManager(dirs, nil, logging.Nop())
	require.NoError(t, paths.EnsureDirs())

	prober := &fakeProber{results: make(map[string]*transcoder.ProbeResult)}
	h := &harness{
		reg:        newMemRegistry(),
		prober:     prober,
		enc:        &fakeEncoder{prober: prober},
		dispatcher: &fakeDispatcher{},
		cache:      &fakeCache{},
		progress:   &fakeProgress{reports: make(map[string][]float64)},
		locker:     lock.NewKeyedMutex(5 * time.Second),
		dirs:       dirs,
	}

	h.deps = Deps{
		Locker:     h.locker,
		Storage:    paths,
		Encoder:    h.enc,
		Prober:     h.prober,
		Registry:   h.reg,
		Descriptor: swarm.NewGenerator(swarm.Options{Dir: dirs.Torrents, PieceLength: 16}, nil),
		Dispatcher: h.dispatcher,
		Cache:      h.cache,
		Progress:   h.progress,
	}
	h.rebuild(t)

	return h
}

// rebuild recreates the coordinator after deps were swapped
func (h *harness) rebuild(t *testing.T) {
	t.Helper()
	c, err := New(h.deps, Config{Resolutions: models.ResolutionLadder()}, logging.Nop())
	require.NoError(t, err)
	h.c = c
}

// addAsset registers an asset with one filesystem file and a preview image
func (h *harness) addAsset(t *testing.T, uuid string, resolution, fps int, duration float64) (*models.Asset, *models.VariantFile) {
	t.Helper()

	asset := &models.Asset{UUID: uuid, Name: uuid, Duration: duration, Preview: &models.Preview{Filename: uuid + ".jpg"}}
	h.reg.addAsset(asset)
	require.NoError(t, os.WriteFile(filepath.Join(h.dirs.Previews, uuid+".jpg"), []byte("jpeg"), 0644))

	file := h.addFile(t, asset, resolution, fps)
	return asset, file
}

func (h *harness) addFile(t *testing.T, asset *models.Asset, resolution, fps int) *models.VariantFile {
	t.Helper()

	file := &models.VariantFile{
		AssetID:    asset.ID,
		Resolution: resolution,
		FPS:        fps,
		Extname:    ".mp4",
		Filename:   models.GenerateWebVideoFilename(resolution, ".mp4"),
		Size:       6,
		Storage:    models.StorageFileSystem,
	}
	require.NoError(t, os.WriteFile(filepath.Join(h.dirs.WebVideos, file.Filename), []byte("source"), 0644))
	h.reg.addFile(file)
	return file
}

func (h *harness) webVideoExists(filename string) bool {
	return fileExists(filepath.Join(h.dirs.WebVideos, filename))
}

func (h *harness) tmpEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dirs.Tmp)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// hookRegistry runs onSaveDuration inside SaveAssetDuration
type hookRegistry struct {
	*memRegistry
	onSaveDuration func()
}

func (r *hookRegistry) SaveAssetDuration(ctx context.Context, assetID int64, duration float64) error {
	if r.onSaveDuration != nil {
		r.onSaveDuration()
	}
	return r.memRegistry.SaveAssetDuration(ctx, assetID, duration)
}

// memObjectStore serves downloads from memory and records deletions
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func (s *memObjectStore) DownloadFile(_ context.Context, objectName, filePath string) error {
	s.mu.Lock()
	data, ok := s.objects[objectName]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("object %s not found", objectName)
	}
	return os.WriteFile(filePath, data, 0644)
}

func (s *memObjectStore) Delete(_ context.Context, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectName)
	s.deleted = append(s.deleted, objectName)
	return nil
}
