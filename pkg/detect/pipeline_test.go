package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Forest.Seed = 42
	cfg.FCM.Seed = 42
	return cfg
}

func TestPipelineProcessBeforeFit(t *testing.T) {
	p := New(testConfig(), nil)
	_, err := p.Process(context.Background(), Records(GenerateSampleEvents(5, 0, 1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFitted))
}

func TestPipelineEndToEnd(t *testing.T) {
	p := New(testConfig(), nil)
	training := GenerateSampleEvents(900, 100, 7)

	model, err := p.Fit(context.Background(), Records(training), nil)
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, uint64(1), model.Sequence)
	assert.NotEmpty(t, model.Version)
	require.NotNil(t, model.Classifier, "900/100 mix must leave enough anomalies to cluster")
	assert.Len(t, model.Categories, p.Config().FCM.K)
	assert.Nil(t, model.Supervised)

	batch := GenerateSampleEvents(90, 10, 8)
	result, err := p.Process(context.Background(), Records(batch))
	require.NoError(t, err)
	assert.Empty(t, result.Rejected)
	require.Len(t, result.Results, 100)

	// Injected attacks dominate the flagged set and the top of the ranking.
	anomalies := result.Anomalies()
	assert.Greater(t, anomalies, 0)
	top := TopAnomalies(result.Results, 5)
	require.Len(t, top, 5)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].CombinedRisk, top[i].CombinedRisk)
	}

	// Every anomalous result carries a category from the taxonomy plus a
	// membership confidence; clean results carry neither.
	taxonomy := map[string]bool{}
	for _, label := range p.Config().Taxonomy {
		taxonomy[label] = true
	}
	for _, r := range result.Results {
		if r.IsAnomaly {
			assert.True(t, taxonomy[r.PrimaryCategory], "unexpected category %q", r.PrimaryCategory)
			assert.Greater(t, r.Confidence, 0.0)
		} else {
			assert.Empty(t, r.PrimaryCategory)
		}
		assert.GreaterOrEqual(t, r.CombinedRisk, 0.0)
		assert.LessOrEqual(t, r.CombinedRisk, 100.0)
	}
}

func TestPipelineFlagsExtremeExfiltration(t *testing.T) {
	p := New(testConfig(), nil)
	training := GenerateSampleEvents(900, 100, 7)
	_, err := p.Fit(context.Background(), Records(training), nil)
	require.NoError(t, err)

	exfil := EventRecord{
		EventID: "EXFIL-1", BytesIn: 1200, BytesOut: 5_000_000, Packets: 8000,
		Duration: 400, DstPort: 443, Protocol: "tcp", Service: "http",
	}
	result, err := p.Process(context.Background(), []EventRecord{exfil})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)

	r := result.Results[0]
	assert.True(t, r.IsAnomaly, "extreme outbound volume must be flagged, score %v", r.AnomalyScore)
	require.NotEmpty(t, r.PrimaryCategory)

	// Membership must point at the cluster dominated by outbound volume
	// (feature 1 is the scaled log1p of bytes_out).
	model := p.Model()
	require.NotNil(t, model.Classifier)
	exfilCluster := model.Categories[0]
	for _, c := range model.Categories[1:] {
		if c.Centroid[1] > exfilCluster.Centroid[1] {
			exfilCluster = c
		}
	}
	assert.Equal(t, exfilCluster.Label, r.PrimaryCategory)
}

func TestPipelineIsolatesMalformedRecords(t *testing.T) {
	p := New(testConfig(), nil)
	_, err := p.Fit(context.Background(), Records(GenerateSampleEvents(200, 20, 3)), nil)
	require.NoError(t, err)

	events := Records(GenerateSampleEvents(5, 0, 4))
	events = append(events, EventRecord{
		EventID: "BAD-1", BytesIn: -50, Packets: 3, Protocol: "tcp",
	})
	events = append(events, Records(GenerateSampleEvents(5, 0, 5))...)

	result, err := p.Process(context.Background(), events)
	require.NoError(t, err, "one malformed record must not abort the batch")
	assert.Len(t, result.Results, 10)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "BAD-1", result.Rejected[0].EventID)
	assert.NotEmpty(t, result.Rejected[0].Reason)
}

func TestPipelineSupervisedBlend(t *testing.T) {
	cfg := testConfig()
	// Training mix is 20% attacks; the decision cut must sit below them.
	cfg.Forest.Contamination = 0.2
	p := New(cfg, nil)
	training := GenerateSampleEvents(400, 100, 11)

	model, err := p.Fit(context.Background(), Records(training), Labels(training))
	require.NoError(t, err)
	require.NotNil(t, model.Supervised)
	assert.Equal(t, 0.95, model.BlendWeight)

	// A labeled fit pushes known attack shapes toward the top of the scale.
	attack := GenerateSampleEvents(0, 1, 12)[0].Event
	result, err := p.Process(context.Background(), []EventRecord{attack})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].IsAnomaly)
	assert.Greater(t, result.Results[0].AnomalyScore, 50.0)
}

func TestPipelineRetrainKeepsLabelsStable(t *testing.T) {
	p := New(testConfig(), nil)
	ctx := context.Background()

	first, err := p.Fit(ctx, Records(GenerateSampleEvents(900, 100, 7)), nil)
	require.NoError(t, err)
	require.NotNil(t, first.Classifier)

	// Retrain on a fresh sample of the same distribution: the categories the
	// clusters map to must keep their labels.
	second, err := p.Fit(ctx, Records(GenerateSampleEvents(900, 100, 21)), nil)
	require.NoError(t, err)
	require.NotNil(t, second.Classifier)

	firstLabels := map[string]bool{}
	for _, c := range first.Categories {
		firstLabels[c.Label] = true
	}
	inherited := 0
	for _, c := range second.Categories {
		if firstLabels[c.Label] {
			inherited++
		}
	}
	assert.Greater(t, inherited, 0, "stable attack shapes must inherit labels across retrains")
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Same(t, second, p.Model())
}

func TestPipelineStaleRestoreDiscarded(t *testing.T) {
	p := New(testConfig(), nil)
	ctx := context.Background()

	first, err := p.Fit(ctx, Records(GenerateSampleEvents(300, 50, 7)), nil)
	require.NoError(t, err)
	second, err := p.Fit(ctx, Records(GenerateSampleEvents(300, 50, 8)), nil)
	require.NoError(t, err)
	require.Same(t, second, p.Model())

	// Restoring an older snapshot must not roll the pipeline back.
	p.Restore(first)
	assert.Same(t, second, p.Model())
	assert.Equal(t, uint64(2), p.Model().Sequence)
}

func TestPipelineSkipsClusteringWithoutAnomalies(t *testing.T) {
	cfg := testConfig()
	cfg.Forest.Contamination = 0.001
	p := New(cfg, nil)

	// A tiny clean sample leaves fewer anomalous points than clusters, a
	// valid state: the model scores but reports no categories yet.
	model, err := p.Fit(context.Background(), Records(GenerateSampleEvents(50, 0, 9)), nil)
	require.NoError(t, err)
	assert.Nil(t, model.Classifier)
	assert.Empty(t, model.Categories)

	result, err := p.Process(context.Background(), Records(GenerateSampleEvents(10, 0, 10)))
	require.NoError(t, err)
	for _, r := range result.Results {
		assert.Empty(t, r.PrimaryCategory)
	}
}

func TestModelSnapshotRoundTrip(t *testing.T) {
	p := New(testConfig(), nil)
	training := GenerateSampleEvents(400, 100, 13)
	model, err := p.Fit(context.Background(), Records(training), Labels(training))
	require.NoError(t, err)

	data, err := MarshalSnapshot(model)
	require.NoError(t, err)
	restored, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, model.Version, restored.Version)
	assert.Equal(t, model.Sequence, restored.Sequence)
	assert.Equal(t, model.TrainSamples, restored.TrainSamples)
	assert.Equal(t, model.Forest.Threshold, restored.Forest.Threshold)
	require.NotNil(t, restored.Supervised)
	assert.Equal(t, model.BlendWeight, restored.BlendWeight)

	// Scoring through a restored model reproduces the original bit-for-bit.
	p2 := New(testConfig(), nil)
	p2.Restore(restored)
	batch := Records(GenerateSampleEvents(30, 5, 14))
	a, err := p.Process(context.Background(), batch)
	require.NoError(t, err)
	b, err := p2.Process(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, b.Results, len(a.Results))
	for i := range a.Results {
		assert.Equal(t, a.Results[i].AnomalyScore, b.Results[i].AnomalyScore)
		assert.Equal(t, a.Results[i].CombinedRisk, b.Results[i].CombinedRisk)
		assert.Equal(t, a.Results[i].PrimaryCategory, b.Results[i].PrimaryCategory)
	}
}

func TestSummarizeBatch(t *testing.T) {
	results := []FusedResult{
		{EventID: "A", AnomalyScore: 95, IsAnomaly: true, CombinedRisk: 95, RiskLevel: RiskCritical, PrimaryCategory: CategoryExfiltration, Confidence: 0.8},
		{EventID: "B", AnomalyScore: 75, IsAnomaly: true, CombinedRisk: 75, RiskLevel: RiskHigh, PrimaryCategory: CategoryExfiltration, Confidence: 0.6},
		{EventID: "C", AnomalyScore: 40, IsAnomaly: false, CombinedRisk: 40, RiskLevel: RiskMedium},
		{EventID: "D", AnomalyScore: 10, IsAnomaly: false, CombinedRisk: 10, RiskLevel: RiskLow},
	}

	s := Summarize(results)
	assert.Equal(t, 4, s.TotalEvents)
	assert.Equal(t, 2, s.TotalAnomalies)
	assert.Equal(t, 50.0, s.AnomalyRate)
	assert.Equal(t, 95.0, s.MaxAnomalyScore)
	assert.Equal(t, 55.0, s.AvgAnomalyScore)
	assert.Equal(t, 1, s.RiskDistribution[RiskCritical])

	cs := SummarizeClusters(results)
	assert.Equal(t, 2, cs.TotalAnomalies)
	assert.Equal(t, CategoryExfiltration, cs.DominantThreat)
	require.Len(t, cs.Distribution, 1)
	assert.Equal(t, 100.0, cs.Distribution[0].Percentage)
	assert.InDelta(t, 0.7, cs.AvgConfidence, 1e-12)
}
