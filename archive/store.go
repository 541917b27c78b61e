// Package archive keeps a history of detections from completed runs.
package archive

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/lookout/db"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
	"github.com/teranos/lookout/pipeline"
)

// Record is one archived detection
type Record struct {
	RunID      string    `json:"run_id"`
	Image      string    `json:"image"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store writes run summaries to the detections table. It records results
// only; run state stays in the pipeline tracker.
type Store struct {
	db      *sql.DB
	logger  *zap.SugaredLogger
	timeNow func() time.Time
}

// Open opens (and migrates) the archive at path
func Open(path string) (*Store, error) {
	log := logger.ComponentLogger("archive")
	conn, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an already migrated connection
func New(conn *sql.DB) *Store {
	return &Store{db: conn, logger: logger.ComponentLogger("archive"), timeNow: time.Now}
}

// Close closes the underlying database. Later calls fail with an error
// matching db.ErrDatabaseClosed.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun inserts every summary of runID in one transaction
func (s *Store) RecordRun(ctx context.Context, runID string, summaries []pipeline.DetectionSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return db.MarkClosed(errors.Wrapf(err, "begin archive tx for %s", runID))
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO detections (run_id, image, label, confidence, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare archive insert")
	}
	defer stmt.Close()

	now := s.timeNow().UTC()
	for _, d := range summaries {
		if _, err := stmt.ExecContext(ctx, runID, d.ImageRef, d.Label, d.Confidence, now); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "archive detection %s for %s", d.Label, runID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit archive for %s", runID)
	}

	s.logger.Debugw("Run archived", logger.FieldRunID, runID, logger.FieldCount, len(summaries))
	return nil
}

// ListByRun returns the archived detections of runID in insertion order.
// An unknown run yields a NotFound error.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, image, label, confidence, created_at FROM detections WHERE run_id = ? ORDER BY id",
		runID)
	if err != nil {
		return nil, db.MarkClosed(errors.Wrapf(err, "query detections for %s", runID))
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.RunID, &r.Image, &r.Label, &r.Confidence, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan detection")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate detections")
	}
	if len(records) == 0 {
		return nil, errors.NewNotFoundError("no archived detections for run %s", runID)
	}
	return records, nil
}

// LabelCount is a label with how many times it was archived
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopLabels returns the most frequent labels across all runs
func (s *Store) TopLabels(ctx context.Context, limit int) ([]LabelCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT label, COUNT(*) AS n FROM detections GROUP BY label ORDER BY n DESC, label LIMIT ?", limit)
	if err != nil {
		return nil, db.MarkClosed(errors.Wrap(err, "query label counts"))
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, errors.Wrap(err, "scan label count")
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}
