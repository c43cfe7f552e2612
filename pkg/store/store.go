// Package store persists events, detection results, and offline evaluation
// reports in PostgreSQL. It is the training data source for scheduled
// retrains and the sink the detector writes scored batches to.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"netsentry/pkg/detect"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the PostgreSQL connection pool.
type Store struct {
	db *sql.DB
}

// Open connects, configures the pool, and runs pending migrations.
func Open(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// InsertEvents stores a batch of events. labels, when non-nil and aligned
// with events, records the ground truth for supervised retrains; pass nil
// for unlabeled traffic.
func (s *Store) InsertEvents(ctx context.Context, events []detect.EventRecord, labels []bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, event_time, source_ip, bytes_in, bytes_out,
			packets, duration_seconds, dst_port, protocol, service, is_attack)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, ev := range events {
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		var isAttack interface{}
		if labels != nil && i < len(labels) {
			isAttack = labels[i]
		}
		if _, err := stmt.ExecContext(ctx, ev.EventID, ts, ev.SourceIP,
			ev.BytesIn, ev.BytesOut, ev.Packets, ev.Duration,
			ev.DstPort, ev.Protocol, ev.Service, isAttack); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.EventID, err)
		}
	}
	return tx.Commit()
}

// RecentEvents loads up to limit of the newest events with their labels.
// The returned labels slice is non-nil only when every loaded event carries
// a ground-truth label, since a partially labeled set cannot train the
// supervised arm.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]detect.EventRecord, []bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_time, COALESCE(source_ip, ''), bytes_in, bytes_out,
			packets, duration_seconds, dst_port, COALESCE(protocol, ''),
			COALESCE(service, ''), is_attack
		FROM events
		ORDER BY event_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []detect.EventRecord
	var labels []bool
	allLabeled := true
	for rows.Next() {
		var ev detect.EventRecord
		var isAttack sql.NullBool
		if err := rows.Scan(&ev.EventID, &ev.Timestamp, &ev.SourceIP,
			&ev.BytesIn, &ev.BytesOut, &ev.Packets, &ev.Duration,
			&ev.DstPort, &ev.Protocol, &ev.Service, &isAttack); err != nil {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
		if isAttack.Valid {
			labels = append(labels, isAttack.Bool)
		} else {
			allLabeled = false
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if !allLabeled || len(labels) != len(events) {
		labels = nil
	}
	return events, labels, nil
}

// SaveResults stores one scored batch under the model version that produced
// it.
func (s *Store) SaveResults(ctx context.Context, modelVersion string, results []detect.FusedResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detection_results (event_id, model_version, anomaly_score,
			is_anomaly, combined_risk, risk_level, access_decision,
			primary_category, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range results {
		r := &results[i]
		if _, err := stmt.ExecContext(ctx, r.EventID, modelVersion,
			r.AnomalyScore, r.IsAnomaly, r.CombinedRisk,
			string(r.RiskLevel), string(r.AccessDecision),
			r.PrimaryCategory, r.Confidence); err != nil {
			return fmt.Errorf("insert result %s: %w", r.EventID, err)
		}
	}
	return tx.Commit()
}

// TopRisks returns the highest-risk stored results across all batches.
func (s *Store) TopRisks(ctx context.Context, limit int) ([]detect.FusedResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, anomaly_score, is_anomaly, combined_risk, risk_level,
			access_decision, COALESCE(primary_category, ''), confidence
		FROM detection_results
		ORDER BY combined_risk DESC, event_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []detect.FusedResult
	for rows.Next() {
		var r detect.FusedResult
		var level, decision string
		if err := rows.Scan(&r.EventID, &r.AnomalyScore, &r.IsAnomaly,
			&r.CombinedRisk, &level, &decision, &r.PrimaryCategory,
			&r.Confidence); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.RiskLevel = detect.RiskLevel(level)
		r.AccessDecision = detect.AccessDecision(decision)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveEvaluation stores one offline evaluation report.
func (s *Store) SaveEvaluation(ctx context.Context, modelVersion string, report *detect.EvaluationReport) error {
	confusion, err := json.Marshal(report.Confusion)
	if err != nil {
		return fmt.Errorf("marshal confusion matrix: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_evaluations (model_version, samples, accuracy,
			precision_rate, recall_rate, f1_score, auc_roc, separation_index, confusion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		modelVersion, report.Samples, report.Accuracy, report.Precision,
		report.Recall, report.F1, report.AUC,
		nullableFloat(report.SeparationIndex), confusion)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// nullableFloat maps the zero/Inf separation index to NULL; the index is
// only meaningful for a multi-cluster fit.
func nullableFloat(v float64) interface{} {
	if v == 0 || v != v || v > 1e300 {
		return nil
	}
	return v
}
