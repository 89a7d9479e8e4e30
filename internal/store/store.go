// Package store persists manual events, their exceptions and the imported
// rows of the derived source modules in SQLite.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"calmerge/internal/calendar"
	appLog "calmerge/internal/log"
	"calmerge/internal/model"
)

//go:embed schema.sql
var schema string

// timeLayout is fixed-width so that stored instants compare correctly as
// strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if path == ":memory:" {
		return OpenInMemory()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	appLog.Info("store opened", "path", path)
	return &Store{db: db}, nil
}

// OpenInMemory returns a private database that lives as long as the Store.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Readers returns one SourceReader per persisted source: manual plus the
// derived modules.
func (s *Store) Readers() []calendar.SourceReader {
	readers := []calendar.SourceReader{&manualReader{db: s.db}}
	for _, st := range model.DerivedSourceTypes() {
		readers = append(readers, &rowReader{db: s.db, st: st})
	}
	return readers
}

// Reader returns the SourceReader for a single persisted source type.
func (s *Store) Reader(st model.SourceType) (calendar.SourceReader, error) {
	if st == model.SourceManual {
		return &manualReader{db: s.db}, nil
	}
	for _, derived := range model.DerivedSourceTypes() {
		if derived == st {
			return &rowReader{db: s.db, st: st}, nil
		}
	}
	return nil, fmt.Errorf("source %q is not stored", st)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func parseNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// filterClause renders the predicates of f that map onto columns shared by
// both event tables.
func filterClause(f model.Filters) (string, []any) {
	var (
		parts []string
		args  []any
	)
	if f.BranchID != "" {
		parts = append(parts, "branch_id = ?")
		args = append(args, f.BranchID)
	}
	if f.AssigneeID != "" {
		parts = append(parts, "assigned_to = ?")
		args = append(args, f.AssigneeID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		parts = append(parts, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(parts, " AND "), args
}
