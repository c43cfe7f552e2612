package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"netsentry/pkg/config"
	"netsentry/pkg/detect"
	otelobs "netsentry/pkg/observability/otel"
	"netsentry/pkg/registry"
	"netsentry/pkg/store"
	"netsentry/pkg/structlog"
)

const serviceName = "detector"

var (
	metricEventsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Subsystem: serviceName,
		Name:      "events_scored_total",
		Help:      "Total number of events scored.",
	})
	metricAnomalies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Subsystem: serviceName,
		Name:      "anomalies_total",
		Help:      "Total number of events flagged as anomalous.",
	})
	metricRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsentry",
		Subsystem: serviceName,
		Name:      "records_rejected_total",
		Help:      "Total number of malformed records rejected during scoring.",
	})
	metricTrainings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsentry",
		Subsystem: serviceName,
		Name:      "trainings_total",
		Help:      "Total number of training runs by outcome.",
	}, []string{"status"})
	metricScoreDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "netsentry",
		Subsystem: serviceName,
		Name:      "score_batch_duration_seconds",
		Help:      "Latency of batch scoring requests.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(metricEventsScored, metricAnomalies, metricRejected,
		metricTrainings, metricScoreDuration)
}

func main() {
	log := structlog.NewLogger(serviceName, structlog.ParseLevel(config.Get("LOG_LEVEL", "INFO")), os.Stdout)

	cfg := pipelineConfigFromEnv()
	pipeline := detect.New(cfg, log)

	var rdb *redis.Client
	if addr := config.Get("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: config.Get("REDIS_PASSWORD", "")})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis unreachable, registry metadata is disk-only", structlog.Fields{"addr": addr, "error": err.Error()})
			rdb = nil
		}
	}

	reg, err := registry.New(config.Get("MODEL_DIR", "/var/lib/netsentry/models"), rdb)
	if err != nil {
		log.Error("open model registry", structlog.Fields{"error": err.Error()})
		os.Exit(1)
	}

	var db *store.Store
	if dbURL := config.Get("DATABASE_URL", ""); dbURL != "" {
		db, err = store.Open(dbURL)
		if err != nil {
			log.Error("open event store", structlog.Fields{"error": err.Error()})
			os.Exit(1)
		}
		defer db.Close()
	} else {
		log.Warn("DATABASE_URL unset, event persistence disabled", nil)
	}

	// Restore the active model so restarts do not wait for a retrain.
	if model, entry, err := reg.Active(context.Background()); err != nil {
		log.Warn("restore active model", structlog.Fields{"error": err.Error()})
	} else if model != nil {
		pipeline.Restore(model)
		log.Info("restored active model", structlog.Fields{
			"version": entry.Version, "train_samples": entry.TrainSamples,
		})
	}

	d := &Detector{
		pipeline: pipeline,
		registry: reg,
		store:    db,
		log:      log,
		trainCh:  make(chan trainRequest, 4),
	}
	go d.trainWorker(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/score", d.handleScore)
	mux.HandleFunc("/train", d.handleTrain)
	mux.HandleFunc("/evaluate", d.handleEvaluate)
	mux.HandleFunc("/model", d.handleModel)
	mux.HandleFunc("/models", d.handleModels)
	mux.HandleFunc("/models/activate", d.handleActivate)
	mux.HandleFunc("/anomalies/top", d.handleTopAnomalies)
	mux.HandleFunc("/healthz", d.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	shutdown, err := otelobs.InitTracer(otelobs.ConfigFromEnv(serviceName, config.Get("SERVICE_VERSION", "dev")))
	if err != nil {
		log.Warn("tracing disabled", structlog.Fields{"error": err.Error()})
	} else {
		defer shutdown(context.Background())
	}

	port := config.Get("DETECTOR_PORT", "8094")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelobs.WrapHandler(serviceName, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("detector starting", structlog.Fields{"port": port})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server exited", structlog.Fields{"error": err.Error()})
		os.Exit(1)
	}
}

// pipelineConfigFromEnv builds the pipeline configuration; every knob has a
// production default and an environment override.
func pipelineConfigFromEnv() detect.Config {
	cfg := detect.DefaultConfig()
	cfg.Forest.NumTrees = config.GetInt("DETECTOR_TREES", cfg.Forest.NumTrees)
	cfg.Forest.SampleSize = config.GetInt("DETECTOR_SAMPLE_SIZE", cfg.Forest.SampleSize)
	cfg.Forest.Contamination = config.GetFloat("DETECTOR_CONTAMINATION", cfg.Forest.Contamination)
	cfg.Forest.MinTrainSamples = config.GetInt("DETECTOR_MIN_TRAIN_SAMPLES", cfg.Forest.MinTrainSamples)
	cfg.FCM.K = config.GetInt("DETECTOR_CATEGORIES", cfg.FCM.K)
	cfg.FCM.Fuzziness = config.GetFloat("DETECTOR_FUZZINESS", cfg.FCM.Fuzziness)
	cfg.FCM.MaxIter = config.GetInt("DETECTOR_CLUSTER_MAX_ITER", cfg.FCM.MaxIter)
	cfg.Thresholds.Medium = config.GetFloat("DETECTOR_RISK_MEDIUM", cfg.Thresholds.Medium)
	cfg.Thresholds.High = config.GetFloat("DETECTOR_RISK_HIGH", cfg.Thresholds.High)
	cfg.Thresholds.Critical = config.GetFloat("DETECTOR_RISK_CRITICAL", cfg.Thresholds.Critical)
	cfg.MaxMatchDistance = config.GetFloat("DETECTOR_MAX_MATCH_DISTANCE", cfg.MaxMatchDistance)
	cfg.SupervisedWeight = config.GetFloat("DETECTOR_SUPERVISED_WEIGHT", cfg.SupervisedWeight)
	return cfg
}
