package detect

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// RobustScaler centers on the median and scales by the interquartile range.
// It is fitted once over a representative sample and then reused frozen, so
// a retrain cannot silently change the meaning of "normal" for features
// that were already scored.
type RobustScaler struct {
	Medians []float64 `json:"medians"`
	Scales  []float64 `json:"scales"` // IQR per column; 1 when degenerate
}

// FitRobustScaler computes column-wise median and IQR over samples.
func FitRobustScaler(samples []FeatureVector) (*RobustScaler, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("fit scaler: %w", ErrInsufficientData)
	}
	dim := len(samples[0])
	medians := make([]float64, dim)
	scales := make([]float64, dim)
	col := make([]float64, len(samples))
	for d := 0; d < dim; d++ {
		for i, s := range samples {
			col[i] = s[d]
		}
		sort.Float64s(col)
		medians[d] = quantile(col, 0.5)
		iqr := quantile(col, 0.75) - quantile(col, 0.25)
		if iqr <= 0 {
			iqr = 1
		}
		scales[d] = iqr
	}
	return &RobustScaler{Medians: medians, Scales: scales}, nil
}

// Transform scales v in place-safe copy. len(v) must match the fitted dim.
func (s *RobustScaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = (v[i] - s.Medians[i]) / s.Scales[i]
	}
	return out
}

// quantile interpolates linearly over sorted data.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// EncoderConfig fixes the categorical vocabulary of the feature vector.
// Values outside the configured lists fall into a reserved all-zero "other"
// pattern instead of failing.
type EncoderConfig struct {
	Protocols []string `json:"protocols"`
	Services  []string `json:"services"`
}

// DefaultEncoderConfig covers the protocols and services the collectors
// actually emit.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Protocols: []string{"tcp", "udp", "icmp"},
		Services:  []string{"http", "dns", "ssh"},
	}
}

const numVolumeFeatures = 4 // bytes_in, bytes_out, packets, duration

// Encoder turns an EventRecord into a fixed-length numeric vector:
// log1p-transformed, robust-scaled volume features, normalized destination
// port, and one-hot categorical fields. Once the scaler is fitted, Encode
// is a pure function: the same record always yields the same vector.
type Encoder struct {
	cfg      EncoderConfig
	scaler   *RobustScaler
	protoIdx map[string]int
	svcIdx   map[string]int
}

// NewEncoder creates an unfitted encoder.
func NewEncoder(cfg EncoderConfig) *Encoder {
	e := &Encoder{
		cfg:      cfg,
		protoIdx: make(map[string]int, len(cfg.Protocols)),
		svcIdx:   make(map[string]int, len(cfg.Services)),
	}
	for i, p := range cfg.Protocols {
		e.protoIdx[strings.ToLower(p)] = i
	}
	for i, s := range cfg.Services {
		e.svcIdx[strings.ToLower(s)] = i
	}
	return e
}

// NewEncoderWithScaler restores an encoder around a previously fitted
// scaler, e.g. when loading a model snapshot.
func NewEncoderWithScaler(cfg EncoderConfig, scaler *RobustScaler) *Encoder {
	e := NewEncoder(cfg)
	e.scaler = scaler
	return e
}

// Dim returns the fixed feature-vector dimension for this configuration.
func (e *Encoder) Dim() int {
	return numVolumeFeatures + 1 + len(e.cfg.Protocols) + len(e.cfg.Services)
}

// Config returns the encoder's categorical configuration.
func (e *Encoder) Config() EncoderConfig { return e.cfg }

// Scaler returns the fitted scaler, or nil before FitScaler.
func (e *Encoder) Scaler() *RobustScaler { return e.scaler }

// FitScaler fits the robust scaler over a representative sample. The scaler
// is frozen afterwards; fitting twice is an error by design.
func (e *Encoder) FitScaler(events []EventRecord) error {
	if e.scaler != nil {
		return fmt.Errorf("scaler already fitted and frozen")
	}
	cols := make([]FeatureVector, 0, len(events))
	for i := range events {
		raw, err := volumeFeatures(&events[i])
		if err != nil {
			continue // malformed records do not poison the scaler fit
		}
		cols = append(cols, raw)
	}
	scaler, err := FitRobustScaler(cols)
	if err != nil {
		return err
	}
	e.scaler = scaler
	return nil
}

// Encode converts one event record to its feature vector.
// Returns *EncodingError for malformed records and ErrNotFitted when the
// scaler has not been fitted yet.
func (e *Encoder) Encode(ev EventRecord) (FeatureVector, error) {
	if e.scaler == nil {
		return nil, fmt.Errorf("encoder: %w", ErrNotFitted)
	}
	raw, err := volumeFeatures(&ev)
	if err != nil {
		return nil, err
	}
	if ev.DstPort < 0 || ev.DstPort > 65535 {
		return nil, &EncodingError{EventID: ev.EventID, Field: "dst_port", Reason: "out of range 0-65535"}
	}

	vec := make(FeatureVector, 0, e.Dim())
	vec = append(vec, e.scaler.Transform(raw)...)
	vec = append(vec, float64(ev.DstPort)/65535.0)

	proto := make([]float64, len(e.cfg.Protocols))
	if i, ok := e.protoIdx[strings.ToLower(ev.Protocol)]; ok {
		proto[i] = 1
	}
	vec = append(vec, proto...)

	svc := make([]float64, len(e.cfg.Services))
	if i, ok := e.svcIdx[strings.ToLower(ev.Service)]; ok {
		svc[i] = 1
	}
	vec = append(vec, svc...)

	return vec, nil
}

// volumeFeatures validates and log1p-transforms the volume-sensitive fields.
// NaN marks a missing field upstream; missing or negative volume fields are
// rejected rather than defaulted to zero because anomaly detection is
// volume-sensitive.
func volumeFeatures(ev *EventRecord) (FeatureVector, error) {
	check := func(field string, v float64) error {
		if math.IsNaN(v) {
			return &EncodingError{EventID: ev.EventID, Field: field, Reason: "missing"}
		}
		if math.IsInf(v, 0) || v < 0 {
			return &EncodingError{EventID: ev.EventID, Field: field, Reason: "must be a non-negative finite number"}
		}
		return nil
	}
	if err := check("bytes_in", ev.BytesIn); err != nil {
		return nil, err
	}
	if err := check("bytes_out", ev.BytesOut); err != nil {
		return nil, err
	}
	if ev.Packets < 0 {
		return nil, &EncodingError{EventID: ev.EventID, Field: "packets", Reason: "must be non-negative"}
	}
	if err := check("duration", ev.Duration); err != nil {
		return nil, err
	}
	return FeatureVector{
		math.Log1p(ev.BytesIn),
		math.Log1p(ev.BytesOut),
		math.Log1p(float64(ev.Packets)),
		math.Log1p(ev.Duration),
	}, nil
}
