package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"netsentry/pkg/detect"
)

// Registry versions fitted detection models: snapshots on disk, metadata
// mirrored to Redis for distributed access, and a single active pointer the
// detector loads at startup. Exactly one model is active at a time.
type Registry struct {
	dir string
	rdb *redis.Client // optional; single-node deployments run disk-only

	mu      sync.RWMutex
	entries map[string]*Entry
}

// Status is the lifecycle state of a stored model.
type Status string

const (
	StatusCandidate Status = "candidate"
	StatusActive    Status = "active"
	StatusArchived  Status = "archived"
)

// Entry is the registry metadata for one model version.
type Entry struct {
	Version      string             `json:"version"`
	Sequence     uint64             `json:"sequence"`
	Status       Status             `json:"status"`
	TrainSamples int                `json:"train_samples"`
	FittedAt     time.Time          `json:"fitted_at"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	FilePath     string             `json:"file_path"`
	FileHash     string             `json:"file_hash"`
	FileSize     int64              `json:"file_size"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

var (
	regModelsSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Subsystem: "registry",
		Name:      "models_saved_total",
		Help:      "Total number of model snapshots saved to the registry.",
	})

	regPromotions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsentry",
		Subsystem: "registry",
		Name:      "model_promotions_total",
		Help:      "Total number of model status transitions.",
	}, []string{"from", "to"})
)

func init() {
	// Safe register; ignore duplicate registration across imports
	_ = prometheus.Register(regModelsSaved)
	_ = prometheus.Register(regPromotions)
}

// New opens (or creates) a registry rooted at dir. rdb may be nil.
func New(dir string, rdb *redis.Client) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	r := &Registry{dir: dir, rdb: rdb, entries: make(map[string]*Entry)}
	if err := r.loadEntries(); err != nil {
		return nil, fmt.Errorf("load registry entries: %w", err)
	}
	return r, nil
}

// Save stores a model snapshot as a candidate. metrics may carry offline
// evaluation results (auc, f1, separation index) for later comparison.
func (r *Registry) Save(ctx context.Context, model *detect.Model, metrics map[string]float64) (*Entry, error) {
	data, err := detect.MarshalSnapshot(model)
	if err != nil {
		return nil, fmt.Errorf("snapshot model %s: %w", model.Version, err)
	}

	path := filepath.Join(r.dir, model.Version+".model.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("write model file: %w", err)
	}
	sum := sha256.Sum256(data)

	now := time.Now().UTC()
	entry := &Entry{
		Version:      model.Version,
		Sequence:     model.Sequence,
		Status:       StatusCandidate,
		TrainSamples: model.TrainSamples,
		FittedAt:     model.FittedAt,
		Metrics:      metrics,
		FilePath:     path,
		FileHash:     hex.EncodeToString(sum[:]),
		FileSize:     int64(len(data)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	r.entries[entry.Version] = entry
	r.mu.Unlock()

	regModelsSaved.Inc()
	if err := r.persistEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Activate promotes a version to active and archives the previous active
// model. The active pointer is what the detector restores on restart.
func (r *Registry) Activate(ctx context.Context, version string) error {
	r.mu.Lock()
	entry, ok := r.entries[version]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("model not found: %s", version)
	}
	now := time.Now().UTC()
	var demoted *Entry
	for _, e := range r.entries {
		if e.Status == StatusActive && e.Version != version {
			e.Status = StatusArchived
			e.UpdatedAt = now
			demoted = e
		}
	}
	from := entry.Status
	entry.Status = StatusActive
	entry.UpdatedAt = now
	r.mu.Unlock()

	regPromotions.WithLabelValues(string(from), string(StatusActive)).Inc()
	if demoted != nil {
		regPromotions.WithLabelValues(string(StatusActive), string(StatusArchived)).Inc()
		if err := r.persistEntry(ctx, demoted); err != nil {
			return err
		}
	}
	if err := r.persistEntry(ctx, entry); err != nil {
		return err
	}
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, activeKey, version, 0).Err(); err != nil {
			return fmt.Errorf("set active pointer: %w", err)
		}
	}
	return nil
}

// Active returns the active model and its entry, or (nil, nil, nil) when no
// model has been activated yet.
func (r *Registry) Active(ctx context.Context) (*detect.Model, *Entry, error) {
	r.mu.RLock()
	var active *Entry
	for _, e := range r.entries {
		if e.Status == StatusActive {
			active = e
			break
		}
	}
	r.mu.RUnlock()
	if active == nil {
		return nil, nil, nil
	}
	model, err := r.Load(ctx, active.Version)
	if err != nil {
		return nil, nil, err
	}
	return model, active, nil
}

// Load reads and restores one model version from disk.
func (r *Registry) Load(ctx context.Context, version string) (*detect.Model, error) {
	r.mu.RLock()
	entry, ok := r.entries[version]
	r.mu.RUnlock()
	if !ok {
		e, err := r.loadFromRedis(ctx, version)
		if err != nil {
			return nil, err
		}
		entry = e
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != entry.FileHash {
		return nil, fmt.Errorf("model file %s corrupted: hash mismatch", version)
	}
	return detect.UnmarshalSnapshot(data)
}

// Get returns the metadata entry for a version.
func (r *Registry) Get(ctx context.Context, version string) (*Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[version]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}
	return r.loadFromRedis(ctx, version)
}

// List returns entries filtered by status; empty status lists everything.
func (r *Registry) List(status Status) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// Delete removes a candidate or archived model. Active models must be
// archived first.
func (r *Registry) Delete(ctx context.Context, version string) error {
	r.mu.Lock()
	entry, ok := r.entries[version]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("model not found: %s", version)
	}
	if entry.Status == StatusActive {
		r.mu.Unlock()
		return fmt.Errorf("model %s is active; archive it before deleting", version)
	}
	delete(r.entries, version)
	r.mu.Unlock()

	if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete model file: %w", err)
	}
	metaPath := filepath.Join(r.dir, version+".json")
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete metadata file: %w", err)
	}
	if r.rdb != nil {
		if err := r.rdb.Del(ctx, redisKey(version)).Err(); err != nil {
			return fmt.Errorf("delete from redis: %w", err)
		}
	}
	return nil
}

const activeKey = "netsentry:model:active"

func redisKey(version string) string {
	return fmt.Sprintf("netsentry:model:%s", version)
}

func (r *Registry) persistEntry(ctx context.Context, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	metaPath := filepath.Join(r.dir, entry.Version+".json")
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return fmt.Errorf("write metadata file: %w", err)
	}
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, redisKey(entry.Version), data, 0).Err(); err != nil {
			return fmt.Errorf("persist entry to redis: %w", err)
		}
	}
	return nil
}

func (r *Registry) loadFromRedis(ctx context.Context, version string) (*Entry, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("model not found: %s", version)
	}
	data, err := r.rdb.Get(ctx, redisKey(version)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("model not found: %s: %w", version, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	r.mu.Lock()
	r.entries[version] = &entry
	r.mu.Unlock()
	return &entry, nil
}

func (r *Registry) loadEntries() error {
	files, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, f := range files {
		name := f.Name()
		if filepath.Ext(name) != ".json" || filepath.Ext(name[:len(name)-len(".json")]) == ".model" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		r.entries[entry.Version] = &entry
	}
	return nil
}
