package detect

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"netsentry/pkg/structlog"
)

// Config is the full tunable surface of the pipeline. Every field maps to an
// environment variable in the detector service; nothing requires a rebuild.
type Config struct {
	Encoder          EncoderConfig  `json:"encoder"`
	Forest           ForestConfig   `json:"forest"`
	FCM              FCMConfig      `json:"fcm"`
	Thresholds       RiskThresholds `json:"thresholds"`
	Taxonomy         []string       `json:"taxonomy"`
	MaxMatchDistance float64        `json:"max_match_distance"`
	SupervisedWeight float64        `json:"supervised_weight"` // blend when labels exist, default 0.95
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Encoder:          DefaultEncoderConfig(),
		Forest:           DefaultForestConfig(),
		FCM:              DefaultFCMConfig(),
		Thresholds:       DefaultRiskThresholds(),
		Taxonomy:         DefaultTaxonomy(),
		MaxMatchDistance: DefaultMaxMatchDistance,
		SupervisedWeight: 0.95,
	}
}

// Model is one immutable fitted model. Readers always see a fully-old or
// fully-new model, never a partial update: the pipeline swaps the whole
// struct atomically.
type Model struct {
	Version      string
	Sequence     uint64 // monotonic; stale retrains are discarded on install
	FittedAt     time.Time
	TrainSamples int

	Encoder    *Encoder
	Forest     *IsolationForest
	Classifier *FuzzyCMeans // nil when the fit saw no anomalies
	Categories []Category

	Supervised  *LogisticClassifier // nil in unsupervised deployments
	BlendWeight float64
}

// RecordError ties a per-record failure to its event.
type RecordError struct {
	EventID string `json:"event_id"`
	Err     error  `json:"-"`
	Reason  string `json:"reason"`
}

// BatchResult is the outcome of scoring one event batch. Rejected records
// are isolated per record; the rest of the batch proceeds.
type BatchResult struct {
	Results  []FusedResult `json:"results"`
	Rejected []RecordError `json:"rejected,omitempty"`
}

// Anomalies counts the flagged results.
func (b *BatchResult) Anomalies() int {
	n := 0
	for i := range b.Results {
		if b.Results[i].IsAnomaly {
			n++
		}
	}
	return n
}

// Pipeline runs encode -> score -> cluster -> fuse over event batches.
// Training is the only long-running operation and may run on a dedicated
// worker; scoring against the current model never blocks on it.
type Pipeline struct {
	cfg     Config
	log     *structlog.Logger
	ranker  *RiskRanker
	aligner *LabelAligner

	current atomic.Pointer[Model]
	seq     atomic.Uint64
}

// New creates a pipeline with no fitted model. logger may be nil.
func New(cfg Config, logger *structlog.Logger) *Pipeline {
	if len(cfg.Taxonomy) == 0 {
		cfg.Taxonomy = DefaultTaxonomy()
	}
	if cfg.SupervisedWeight <= 0 || cfg.SupervisedWeight > 1 {
		cfg.SupervisedWeight = 0.95
	}
	if cfg.FCM.K <= 0 {
		cfg.FCM.K = len(cfg.Taxonomy)
	}
	return &Pipeline{
		cfg:     cfg,
		log:     logger,
		ranker:  NewRiskRanker(cfg.Thresholds),
		aligner: NewLabelAligner(cfg.Taxonomy, cfg.MaxMatchDistance),
	}
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Model returns the current fitted model, or nil before the first fit.
func (p *Pipeline) Model() *Model { return p.current.Load() }

// Fit trains a candidate model on events and installs it unless a newer
// retrain completed first. labels, when non-nil and aligned with events,
// enable the supervised blend arm; pass nil for purely unsupervised fits.
func (p *Pipeline) Fit(ctx context.Context, events []EventRecord, labels []bool) (*Model, error) {
	seq := p.seq.Add(1)

	model, err := p.fit(ctx, events, labels, seq)
	if err != nil {
		return nil, err
	}
	if !p.install(model) {
		p.warn("training run superseded, result discarded", structlog.Fields{
			"sequence": seq, "version": model.Version,
		})
	}
	return model, nil
}

func (p *Pipeline) fit(ctx context.Context, events []EventRecord, labels []bool, seq uint64) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prev := p.current.Load()

	// The scaler is fitted once over the first representative sample and
	// reused frozen by every later retrain.
	var encoder *Encoder
	if prev != nil {
		encoder = NewEncoderWithScaler(p.cfg.Encoder, prev.Encoder.Scaler())
	} else {
		encoder = NewEncoder(p.cfg.Encoder)
		if err := encoder.FitScaler(events); err != nil {
			return nil, fmt.Errorf("fit scaler: %w", err)
		}
	}

	vectors := make([]FeatureVector, 0, len(events))
	keptLabels := make([]bool, 0, len(events))
	rejected := 0
	for i := range events {
		vec, err := encoder.Encode(events[i])
		if err != nil {
			rejected++
			continue
		}
		vectors = append(vectors, vec)
		if labels != nil && i < len(labels) {
			keptLabels = append(keptLabels, labels[i])
		}
	}
	if rejected > 0 {
		p.warn("malformed records excluded from training", structlog.Fields{"rejected": rejected})
	}

	forest := NewIsolationForest(p.cfg.Forest)
	var supervised *LogisticClassifier
	blendWeight := 0.0
	if labels != nil && len(keptLabels) == len(vectors) {
		lc := NewLogisticClassifier(DefaultLogisticConfig())
		if err := lc.Fit(vectors, keptLabels); err != nil {
			// Trusted labels unusable: fall back to pure unsupervised scoring.
			p.warn("supervised blend disabled", structlog.Fields{"error": err.Error()})
		} else {
			supervised = lc
			blendWeight = p.cfg.SupervisedWeight
			forest.AttachSupervised(lc, blendWeight)
		}
	}
	if err := forest.Fit(vectors); err != nil {
		return nil, fmt.Errorf("fit anomaly scorer: %w", err)
	}

	// Cluster only the anomalous subset.
	anomalous := make([]FeatureVector, 0, len(vectors))
	for _, v := range vectors {
		_, isAnomaly, err := forest.Score(v)
		if err != nil {
			return nil, err
		}
		if isAnomaly {
			anomalous = append(anomalous, v)
		}
	}

	model := &Model{
		Version:      uuid.NewString(),
		Sequence:     seq,
		FittedAt:     time.Now().UTC(),
		TrainSamples: len(vectors),
		Encoder:      encoder,
		Forest:       forest,
		Supervised:   supervised,
		BlendWeight:  blendWeight,
	}

	fcm := NewFuzzyCMeans(p.cfg.FCM)
	if err := fcm.Fit(anomalous); err != nil {
		if errors.Is(err, ErrInsufficientData) {
			// No anomalies this run is a valid state: the model scores but
			// reports no categories until a later retrain sees anomalies.
			p.info("clustering skipped", structlog.Fields{"anomalous": len(anomalous)})
			if prev != nil {
				model.Classifier = prev.Classifier
				model.Categories = prev.Categories
			}
			return model, nil
		}
		return nil, fmt.Errorf("fit cluster classifier: %w", err)
	}

	var prevCategories []Category
	if prev != nil {
		prevCategories = prev.Categories
	}
	categories, ambiguity := p.aligner.Align(fcm.Centroids, prevCategories)
	if ambiguity != nil {
		p.warn(ambiguity.Error(), structlog.Fields{"sequence": seq})
	}
	model.Classifier = fcm
	model.Categories = categories
	return model, nil
}

// install swaps the model in unless a newer one is already current.
func (p *Pipeline) install(m *Model) bool {
	for {
		cur := p.current.Load()
		if cur != nil && cur.Sequence >= m.Sequence {
			return false
		}
		if p.current.CompareAndSwap(cur, m) {
			return true
		}
	}
}

// Restore installs a previously snapshotted model (e.g. loaded from the
// model registry at startup).
func (p *Pipeline) Restore(m *Model) {
	for {
		cur := p.seq.Load()
		if m.Sequence <= cur {
			break
		}
		if p.seq.CompareAndSwap(cur, m.Sequence) {
			break
		}
	}
	p.install(m)
}

// Process scores one batch against the current model. Per-record encoding
// failures are reported in BatchResult.Rejected while the batch continues;
// a missing model aborts the whole batch with ErrNotFitted.
func (p *Pipeline) Process(ctx context.Context, events []EventRecord) (*BatchResult, error) {
	model := p.current.Load()
	if model == nil {
		return nil, fmt.Errorf("pipeline: %w", ErrNotFitted)
	}

	batch := &BatchResult{Results: make([]FusedResult, 0, len(events))}
	for i := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := model.Encoder.Encode(events[i])
		if err != nil {
			var encErr *EncodingError
			if errors.As(err, &encErr) {
				batch.Rejected = append(batch.Rejected, RecordError{
					EventID: events[i].EventID, Err: err, Reason: encErr.Error(),
				})
				continue
			}
			return nil, err
		}

		score, isAnomaly, err := model.Forest.Score(vec)
		if err != nil {
			return nil, err
		}
		verdict := AnomalyVerdict{
			EventID:      events[i].EventID,
			AnomalyScore: score,
			IsAnomaly:    isAnomaly,
			RiskLevel:    p.cfg.Thresholds.Level(score),
		}

		var membership *Membership
		if isAnomaly && model.Classifier != nil {
			degrees, err := model.Classifier.Predict(vec)
			if err != nil {
				return nil, err
			}
			membership = &Membership{
				EventID: events[i].EventID,
				Degrees: make(map[string]float64, len(degrees)),
			}
			for j, deg := range degrees {
				membership.Degrees[model.Categories[j].Label] = deg
			}
		}
		batch.Results = append(batch.Results, p.ranker.Rank(verdict, membership))
	}
	return batch, nil
}

func (p *Pipeline) info(msg string, fields structlog.Fields) {
	if p.log != nil {
		p.log.Info(msg, fields)
	}
}

func (p *Pipeline) warn(msg string, fields structlog.Fields) {
	if p.log != nil {
		p.log.Warn(msg, fields)
	}
}
