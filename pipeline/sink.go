package pipeline

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrSink marks failures of the output sink.
var ErrSink = errors.New("output sink failed")

// Sink receives consumed messages in the order they were popped.
type Sink interface {
	Write(msg string) error
	Close() error
}

// NewSink opens the sink described by cfg. Previous output is discarded.
func NewSink(cfg OutputConfig) (Sink, error) {
	switch cfg.Type {
	case "file", "":
		return NewFileSink(cfg.Path)
	case "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Path
		}
		return NewSQLSink("sqlite3", dsn)
	case "postgres":
		return NewSQLSink("postgres", cfg.DSN)
	}
	return nil, errors.Newf("unsupported output type: %q", cfg.Type)
}

// FileSink writes one line per message. Lines are written straight to the
// file, so the output grows while the consumer runs.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "create output directory"), ErrSink)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "create output file"), ErrSink)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteString(msg + "\n"); err != nil {
		return errors.Mark(errors.Wrapf(err, "write %s", s.f.Name()), ErrSink)
	}
	return nil
}

func (s *FileSink) Close() error {
	return s.f.Close()
}

// SQLSink stores messages as rows of the messages table, seq being the
// position in which they were consumed.
type SQLSink struct {
	db   *sql.DB
	mu   sync.Mutex
	next int64
}

func NewSQLSink(driver, dsn string) (*SQLSink, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", driver), ErrSink)
	}
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS messages`,
		`CREATE TABLE messages (seq INTEGER PRIMARY KEY, body TEXT NOT NULL)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Mark(errors.Wrapf(err, "prepare %s output", driver), ErrSink)
		}
	}
	return &SQLSink{db: db}, nil
}

func (s *SQLSink) Write(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO messages (seq, body) VALUES ($1, $2)`, s.next, msg)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "insert message"), ErrSink)
	}
	s.next++
	return nil
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}
