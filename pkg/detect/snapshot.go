package detect

import (
	"encoding/json"
	"fmt"
	"time"
)

// ModelSnapshot is the serialized form of a fitted model, suitable for the
// model registry. Restoring a snapshot reproduces scoring bit-for-bit: the
// frozen scaler, the forest arenas, the centroids and their stable labels
// all round-trip.
type ModelSnapshot struct {
	Version      string              `json:"version"`
	Sequence     uint64              `json:"sequence"`
	FittedAt     time.Time           `json:"fitted_at"`
	TrainSamples int                 `json:"train_samples"`
	Encoder      EncoderConfig       `json:"encoder"`
	Scaler       *RobustScaler       `json:"scaler"`
	Forest       *IsolationForest    `json:"forest"`
	Classifier   *FuzzyCMeans        `json:"classifier,omitempty"`
	Categories   []Category          `json:"categories,omitempty"`
	Supervised   *LogisticClassifier `json:"supervised,omitempty"`
	BlendWeight  float64             `json:"blend_weight,omitempty"`
}

// Snapshot captures the model for persistence.
func (m *Model) Snapshot() *ModelSnapshot {
	return &ModelSnapshot{
		Version:      m.Version,
		Sequence:     m.Sequence,
		FittedAt:     m.FittedAt,
		TrainSamples: m.TrainSamples,
		Encoder:      m.Encoder.Config(),
		Scaler:       m.Encoder.Scaler(),
		Forest:       m.Forest,
		Classifier:   m.Classifier,
		Categories:   m.Categories,
		Supervised:   m.Supervised,
		BlendWeight:  m.BlendWeight,
	}
}

// RestoreModel rebuilds a model from its snapshot.
func RestoreModel(s *ModelSnapshot) (*Model, error) {
	if s.Scaler == nil || s.Forest == nil {
		return nil, fmt.Errorf("restore model %s: snapshot incomplete", s.Version)
	}
	m := &Model{
		Version:      s.Version,
		Sequence:     s.Sequence,
		FittedAt:     s.FittedAt,
		TrainSamples: s.TrainSamples,
		Encoder:      NewEncoderWithScaler(s.Encoder, s.Scaler),
		Forest:       s.Forest,
		Classifier:   s.Classifier,
		Categories:   s.Categories,
		Supervised:   s.Supervised,
		BlendWeight:  s.BlendWeight,
	}
	if s.Supervised != nil {
		m.Forest.AttachSupervised(s.Supervised, s.BlendWeight)
	}
	return m, nil
}

// MarshalSnapshot serializes a model to JSON.
func MarshalSnapshot(m *Model) ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// UnmarshalSnapshot deserializes and restores a model.
func UnmarshalSnapshot(data []byte) (*Model, error) {
	var s ModelSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal model snapshot: %w", err)
	}
	return RestoreModel(&s)
}
