package detect

import (
	"errors"
	"math"
	"testing"
)

func fittedEncoder(t *testing.T) *Encoder {
	t.Helper()
	enc := NewEncoder(DefaultEncoderConfig())
	events := Records(GenerateSampleEvents(50, 0, 7))
	if err := enc.FitScaler(events); err != nil {
		t.Fatalf("FitScaler: %v", err)
	}
	return enc
}

func TestEncoderDeterministic(t *testing.T) {
	enc := fittedEncoder(t)
	ev := EventRecord{
		EventID: "EVT-1", BytesIn: 5000, BytesOut: 2000, Packets: 40,
		Duration: 30, DstPort: 443, Protocol: "tcp", Service: "http",
	}

	a, err := enc.Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := enc.Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(a) != enc.Dim() {
		t.Errorf("expected dim %d, got %d", enc.Dim(), len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("component %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEncoderUnknownCategoricalsMapToOther(t *testing.T) {
	enc := fittedEncoder(t)
	ev := EventRecord{
		EventID: "EVT-2", BytesIn: 100, BytesOut: 100, Packets: 5,
		Duration: 1, DstPort: 9999, Protocol: "gre", Service: "telnet",
	}

	vec, err := enc.Encode(ev)
	if err != nil {
		t.Fatalf("unknown categoricals must not fail: %v", err)
	}
	// the one-hot tail must be all zeros for unknown protocol and service
	for i := numVolumeFeatures + 1; i < len(vec); i++ {
		if vec[i] != 0 {
			t.Errorf("one-hot component %d = %v, want 0", i, vec[i])
		}
	}
}

func TestEncoderRejectsMalformedRecords(t *testing.T) {
	enc := fittedEncoder(t)
	cases := []struct {
		name  string
		event EventRecord
	}{
		{"missing bytes_in", EventRecord{EventID: "E1", BytesIn: math.NaN(), Packets: 1}},
		{"negative bytes_out", EventRecord{EventID: "E2", BytesOut: -10, Packets: 1}},
		{"negative packets", EventRecord{EventID: "E3", Packets: -1}},
		{"negative duration", EventRecord{EventID: "E4", Duration: -5, Packets: 1}},
		{"port out of range", EventRecord{EventID: "E5", Packets: 1, DstPort: 70000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := enc.Encode(tc.event)
			var encErr *EncodingError
			if !errors.As(err, &encErr) {
				t.Fatalf("expected EncodingError, got %v", err)
			}
			if encErr.EventID != tc.event.EventID {
				t.Errorf("error event id %q, want %q", encErr.EventID, tc.event.EventID)
			}
		})
	}
}

func TestEncoderScalerFrozen(t *testing.T) {
	enc := fittedEncoder(t)
	if err := enc.FitScaler(Records(GenerateSampleEvents(20, 0, 8))); err == nil {
		t.Error("refitting a frozen scaler must fail")
	}
}

func TestEncoderNotFitted(t *testing.T) {
	enc := NewEncoder(DefaultEncoderConfig())
	_, err := enc.Encode(EventRecord{EventID: "E1", Packets: 1})
	if !errors.Is(err, ErrNotFitted) {
		t.Errorf("expected ErrNotFitted, got %v", err)
	}
}

func TestRobustScalerDegenerateColumn(t *testing.T) {
	samples := []FeatureVector{{1, 5}, {1, 6}, {1, 7}, {1, 8}}
	s, err := FitRobustScaler(samples)
	if err != nil {
		t.Fatalf("FitRobustScaler: %v", err)
	}
	if s.Scales[0] != 1 {
		t.Errorf("zero-IQR column should scale by 1, got %v", s.Scales[0])
	}
	out := s.Transform([]float64{1, 6.5})
	if out[0] != 0 {
		t.Errorf("constant column should center to 0, got %v", out[0])
	}
}
