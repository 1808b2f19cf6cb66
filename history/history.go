// Package history records per-epoch training metrics in a SQLite database.
// Only metrics are stored; model weights never are.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	config     TEXT NOT NULL,
	seed       INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS epochs (
	run_id         TEXT NOT NULL REFERENCES runs(run_id),
	epoch          INTEGER NOT NULL,
	train_loss     REAL NOT NULL,
	train_accuracy REAL NOT NULL,
	test_loss      REAL NOT NULL,
	test_accuracy  REAL NOT NULL,
	seconds        REAL NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, epoch)
);`

// Epoch is one stored row.
type Epoch struct {
	RunID         string
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	TestLoss      float64
	TestAccuracy  float64
	Seconds       float64
	CreatedAt     time.Time
}

// Store is a metrics database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create history schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRun registers a run and returns its id. config is stored verbatim.
func (s *Store) NewRun(ctx context.Context, config string, seed int64) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, config, seed, created_at) VALUES (?, ?, ?, ?)`,
		id, config, seed, time.Now().UTC())
	if err != nil {
		return "", errors.Wrap(err, "insert run")
	}
	return id, nil
}

// Record stores the metrics of one epoch.
func (s *Store) Record(ctx context.Context, e Epoch) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO epochs (run_id, epoch, train_loss, train_accuracy, test_loss, test_accuracy, seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Epoch, e.TrainLoss, e.TrainAccuracy, e.TestLoss, e.TestAccuracy, e.Seconds, e.CreatedAt)
	return errors.Wrapf(err, "insert epoch %d", e.Epoch)
}

// Epochs lists the epochs of a run in order.
func (s *Store) Epochs(ctx context.Context, runID string) ([]Epoch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, epoch, train_loss, train_accuracy, test_loss, test_accuracy, seconds, created_at
		 FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query epochs")
	}
	defer rows.Close()

	var o []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.RunID, &e.Epoch, &e.TrainLoss, &e.TrainAccuracy, &e.TestLoss, &e.TestAccuracy, &e.Seconds, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan epoch")
		}
		o = append(o, e)
	}
	return o, errors.Wrap(rows.Err(), "iterate epochs")
}

// Best returns the epoch with the highest test accuracy of a run.
func (s *Store) Best(ctx context.Context, runID string) (*Epoch, error) {
	epochs, err := s.Epochs(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(epochs) == 0 {
		return nil, sql.ErrNoRows
	}
	best := epochs[0]
	for _, e := range epochs[1:] {
		if e.TestAccuracy > best.TestAccuracy {
			best = e
		}
	}
	return &best, nil
}
