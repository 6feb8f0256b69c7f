// Package store implements the Node Store: a SQLite relational index, a
// per-node JSON archive on disk, a Bleve full-text index, and a sqlite-vec
// vector index, kept consistent at transaction commit.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlitevec.Auto()
}

//go:embed migrations
var migrationsFS embed.FS

// Config locates the Node Store's on-disk state.
type Config struct {
	// DataRoot is the daemon's data directory. The store keeps brain.db,
	// the nodes/ JSON archive, and the observations.bleve index under it.
	DataRoot string

	// EmbeddingDimensions sizes the lazily-created vector table. Zero
	// disables semantic search until an embedding backfill sets it.
	EmbeddingDimensions int

	Logger *slog.Logger
}

// Store is the Node Store. A single process owns it; SQLite's WAL mode
// plus a single *sql.DB serializes writers while allowing concurrent
// readers, matching the spec's "writer-exclusive transaction, multi-reader
// access allowed concurrently" concurrency model.
type Store struct {
	db      *sql.DB
	bleve   bleve.Index
	dataRoot string
	dim     int
	log     *slog.Logger
}

// Open opens (creating if necessary) the SQLite database, runs pending
// migrations, opens the Bleve full-text index, and ensures the nodes/
// JSON archive directory tree exists.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataRoot, "nodes"), 0o755); err != nil {
		return nil, fmt.Errorf("create nodes archive dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataRoot, "brain.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open brain.db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer SQLite: one connection avoids SQLITE_BUSY races on its own

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not loaded: %w", err)
	}

	if err := runMigrations(db, dbPath); err != nil {
		db.Close()
		return nil, err
	}

	indexPath := filepath.Join(cfg.DataRoot, "observations.bleve")
	idx, err := openOrCreateBleveIndex(indexPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		bleve:    idx,
		dataRoot: cfg.DataRoot,
		dim:      cfg.EmbeddingDimensions,
		log:      logger,
	}

	if cfg.EmbeddingDimensions > 0 {
		if err := s.ensureVectorTable(cfg.EmbeddingDimensions); err != nil {
			s.Close()
			return nil, err
		}
	}

	logger.Info("node store opened", "db", dbPath, "sqlite_vec_version", vecVersion)
	return s, nil
}

// runMigrations applies embedded migrations. It intentionally does not
// call m.Close() — that would close the shared *sql.DB — only the source
// driver is closed once migrations have run.
func runMigrations(db *sql.DB, dbPath string) error {
	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "brain", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer sourceDriver.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// ensureVectorTable creates the node_vectors vec0 virtual table for the
// given embedding dimension if it does not already exist. The column
// width is a compile-time constant to sqlite-vec, so this cannot live in
// a static migration file.
func (s *Store) ensureVectorTable(dim int) error {
	schema := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS node_vectors USING vec0(
			node_id TEXT PRIMARY KEY,
			embedding_model TEXT PARTITION KEY,
			embedding FLOAT[%d]
		)`, dim)
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create node_vectors table: %w", err)
	}
	s.dim = dim
	return nil
}

// Health reports database connectivity and pool statistics.
type Health struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"response_time_ms"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
}

// Health pings the database and reports pool stats.
func (s *Store) Health(ctx context.Context) (*Health, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return &Health{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}
	stats := s.db.Stats()
	return &Health{
		Status:          "healthy",
		ResponseTime:    time.Since(start),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}, nil
}

// Close releases the database connection and the Bleve index.
func (s *Store) Close() error {
	var errs []error
	if s.bleve != nil {
		if err := s.bleve.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close store: %v", errs)
	}
	return nil
}
