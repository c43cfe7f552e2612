package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"netsentry/pkg/detect"
	"netsentry/pkg/registry"
	"netsentry/pkg/store"
	"netsentry/pkg/structlog"
)

// Detector owns the pipeline and its supporting stores. Scoring reads the
// current model lock-free; training runs on a single background worker so
// concurrent retrain requests queue instead of racing.
type Detector struct {
	pipeline *detect.Pipeline
	registry *registry.Registry
	store    *store.Store // nil when persistence is disabled
	log      *structlog.Logger
	trainCh  chan trainRequest
}

type trainRequest struct {
	jobID    string
	events   []detect.EventRecord
	labels   []bool
	fromDB   bool
	dbLimit  int
	received time.Time
}

type scoreRequest struct {
	Events  []detect.EventRecord `json:"events"`
	Persist bool                 `json:"persist,omitempty"`
}

type scoreResponse struct {
	ModelVersion string                `json:"model_version"`
	Summary      detect.AnomalySummary `json:"summary"`
	Clusters     detect.ClusterSummary `json:"clusters"`
	Results      []detect.FusedResult  `json:"results"`
	Rejected     []detect.RecordError  `json:"rejected,omitempty"`
}

func (d *Detector) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		http.Error(w, "no events", http.StatusBadRequest)
		return
	}

	start := time.Now()
	batch, err := d.pipeline.Process(r.Context(), req.Events)
	if err != nil {
		if errors.Is(err, detect.ErrNotFitted) {
			http.Error(w, "no model fitted yet; train first", http.StatusConflict)
			return
		}
		d.log.Error("score batch", structlog.Fields{"error": err.Error()})
		http.Error(w, "scoring failed", http.StatusInternalServerError)
		return
	}
	metricScoreDuration.Observe(time.Since(start).Seconds())
	metricEventsScored.Add(float64(len(batch.Results)))
	metricAnomalies.Add(float64(batch.Anomalies()))
	metricRejected.Add(float64(len(batch.Rejected)))

	model := d.pipeline.Model()
	if req.Persist && d.store != nil {
		if err := d.store.SaveResults(r.Context(), model.Version, batch.Results); err != nil {
			d.log.Error("persist results", structlog.Fields{"error": err.Error()})
		}
		if err := d.store.InsertEvents(r.Context(), req.Events, nil); err != nil {
			d.log.Error("persist events", structlog.Fields{"error": err.Error()})
		}
	}

	writeJSON(w, http.StatusOK, scoreResponse{
		ModelVersion: model.Version,
		Summary:      detect.Summarize(batch.Results),
		Clusters:     detect.SummarizeClusters(batch.Results),
		Results:      batch.Results,
		Rejected:     batch.Rejected,
	})
}

type trainHTTPRequest struct {
	Events  []detect.EventRecord `json:"events,omitempty"`
	Labels  []bool               `json:"labels,omitempty"`
	FromDB  bool                 `json:"from_db,omitempty"`
	DBLimit int                  `json:"db_limit,omitempty"`
}

func (d *Detector) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req trainHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.FromDB && d.store == nil {
		http.Error(w, "event store not configured", http.StatusConflict)
		return
	}
	if !req.FromDB && len(req.Events) == 0 {
		http.Error(w, "no events", http.StatusBadRequest)
		return
	}
	if req.Labels != nil && len(req.Labels) != len(req.Events) {
		http.Error(w, "labels must align with events", http.StatusBadRequest)
		return
	}

	job := trainRequest{
		jobID:    uuid.NewString(),
		events:   req.Events,
		labels:   req.Labels,
		fromDB:   req.FromDB,
		dbLimit:  req.DBLimit,
		received: time.Now().UTC(),
	}
	select {
	case d.trainCh <- job:
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.jobID, "status": "queued"})
	default:
		http.Error(w, "training queue full", http.StatusTooManyRequests)
	}
}

// trainWorker drains the training queue one job at a time. A finished model
// is snapshotted to the registry and activated; the pipeline itself discards
// stale results if jobs ever complete out of order.
func (d *Detector) trainWorker(ctx context.Context) {
	for job := range d.trainCh {
		log := d.log.WithFields(structlog.Fields{"job_id": job.jobID})

		events, labels := job.events, job.labels
		if job.fromDB {
			limit := job.dbLimit
			if limit <= 0 {
				limit = 100000
			}
			var err error
			events, labels, err = d.store.RecentEvents(ctx, limit)
			if err != nil {
				log.Error("load training events", structlog.Fields{"error": err.Error()})
				metricTrainings.WithLabelValues("error").Inc()
				continue
			}
		}

		start := time.Now()
		model, err := d.pipeline.Fit(ctx, events, labels)
		if err != nil {
			log.Error("training failed", structlog.Fields{"error": err.Error()})
			metricTrainings.WithLabelValues("error").Inc()
			continue
		}
		metricTrainings.WithLabelValues("ok").Inc()
		log.Info("training complete", structlog.Fields{
			"version":       model.Version,
			"train_samples": model.TrainSamples,
			"supervised":    model.Supervised != nil,
			"duration_ms":   time.Since(start).Milliseconds(),
		})

		if _, err := d.registry.Save(ctx, model, nil); err != nil {
			log.Error("save model", structlog.Fields{"error": err.Error()})
			continue
		}
		if err := d.registry.Activate(ctx, model.Version); err != nil {
			log.Error("activate model", structlog.Fields{"error": err.Error()})
		}
	}
}

type evaluateRequest struct {
	Events []detect.EventRecord `json:"events"`
	Labels []bool               `json:"labels"`
}

func (d *Detector) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 || len(req.Events) != len(req.Labels) {
		http.Error(w, "events and labels must align", http.StatusBadRequest)
		return
	}

	model := d.pipeline.Model()
	if model == nil {
		http.Error(w, "no model fitted yet; train first", http.StatusConflict)
		return
	}

	// Score the benchmark set, keeping only records both stages can see.
	var scores []float64
	var predicted, truth []bool
	var clustered []detect.FeatureVector
	for i := range req.Events {
		vec, err := model.Encoder.Encode(req.Events[i])
		if err != nil {
			continue
		}
		score, isAnomaly, err := model.Forest.Score(vec)
		if err != nil {
			http.Error(w, "scoring failed", http.StatusInternalServerError)
			return
		}
		scores = append(scores, score)
		predicted = append(predicted, isAnomaly)
		truth = append(truth, req.Labels[i])
		if isAnomaly {
			clustered = append(clustered, vec)
		}
	}

	report, err := detect.Evaluate(scores, predicted, truth, clustered, model.Classifier)
	if err != nil {
		d.log.Error("evaluate", structlog.Fields{"error": err.Error()})
		http.Error(w, "evaluation failed", http.StatusInternalServerError)
		return
	}
	if d.store != nil {
		if err := d.store.SaveEvaluation(r.Context(), model.Version, report); err != nil {
			d.log.Error("persist evaluation", structlog.Fields{"error": err.Error()})
		}
	}
	writeJSON(w, http.StatusOK, report)
}

type modelInfo struct {
	Version      string    `json:"version"`
	Sequence     uint64    `json:"sequence"`
	FittedAt     time.Time `json:"fitted_at"`
	TrainSamples int       `json:"train_samples"`
	Supervised   bool      `json:"supervised"`
	Categories   []string  `json:"categories,omitempty"`
}

func (d *Detector) handleModel(w http.ResponseWriter, r *http.Request) {
	model := d.pipeline.Model()
	if model == nil {
		http.Error(w, "no model fitted yet", http.StatusNotFound)
		return
	}
	info := modelInfo{
		Version:      model.Version,
		Sequence:     model.Sequence,
		FittedAt:     model.FittedAt,
		TrainSamples: model.TrainSamples,
		Supervised:   model.Supervised != nil,
	}
	for _, c := range model.Categories {
		info.Categories = append(info.Categories, c.Label)
	}
	writeJSON(w, http.StatusOK, info)
}

func (d *Detector) handleModels(w http.ResponseWriter, r *http.Request) {
	status := registry.Status(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, d.registry.List(status))
}

func (d *Detector) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Version == "" {
		http.Error(w, "version required", http.StatusBadRequest)
		return
	}
	model, err := d.registry.Load(r.Context(), req.Version)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := d.registry.Activate(r.Context(), req.Version); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	d.pipeline.Restore(model)
	writeJSON(w, http.StatusOK, map[string]string{"version": req.Version, "status": "active"})
}

func (d *Detector) handleTopAnomalies(w http.ResponseWriter, r *http.Request) {
	if d.store == nil {
		http.Error(w, "event store not configured", http.StatusConflict)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	results, err := d.store.TopRisks(r.Context(), limit)
	if err != nil {
		d.log.Error("load top risks", structlog.Fields{"error": err.Error()})
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (d *Detector) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "healthy",
		"model":  d.pipeline.Model() != nil,
		"store":  d.store != nil,
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

