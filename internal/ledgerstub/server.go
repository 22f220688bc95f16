// Package ledgerstub is an in-memory stand-in for the ledger HTTP service.
// It speaks the same contract the smoke runner drives and produces real
// export CSV files through an asynchronous job queue.
package ledgerstub

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledgerx-smoke/internal/api/middleware"
	"github.com/dvloznov/ledgerx-smoke/internal/jobs"
	"github.com/dvloznov/ledgerx-smoke/internal/jobs/inmemory"
)

// KeyStyle selects how response objects name their fields.
type KeyStyle string

const (
	// KeyStyleSnake emits "id", "file_path", ...
	KeyStyleSnake KeyStyle = "snake"
	// KeyStylePascal emits "ID", "FilePath", ... as raw database rows do.
	KeyStylePascal KeyStyle = "pascal"
)

// Options configure a Server. The zero value is usable.
type Options struct {
	// Secret signs session tokens.
	Secret []byte

	// ExportDir is where export files are written. Defaults to a temp dir.
	ExportDir string

	// ReportDir, when set, replaces ExportDir in the file paths the API
	// reports, e.g. "./tmp/exports" to mimic a server with another cwd.
	ReportDir string

	KeyStyle KeyStyle

	// NullableFilePath reports file paths as {"String": ..., "Valid": ...}.
	NullableFilePath bool

	// FailExports makes every export job end in status "error".
	FailExports bool

	// ExportDelay is how long each export job takes.
	ExportDelay time.Duration

	// StatusFailures answers the first N status requests with 503.
	StatusFailures int

	// ExportRetries is how often a failed export job is retried.
	ExportRetries int

	Workers int
	Log     zerolog.Logger
	Now     func() time.Time
}

// Server is the ledger stub.
type Server struct {
	opts Options
	log  zerolog.Logger

	store *inmemory.Store
	queue *inmemory.Queue

	mu           sync.Mutex
	users        map[string]*user
	accounts     map[int64]*account
	transactions []*transaction
	exports      map[int64]*export
	nextID       map[string]int64
	statusCalls  int
}

type user struct {
	ID           int64
	Email        string
	PasswordHash []byte
}

type account struct {
	ID       int64
	UserID   int64
	Name     string
	Currency string
	Active   bool
}

type transaction struct {
	ID          int64
	UserID      int64
	AccountID   int64
	AmountMinor int64
	Currency    string
	OccurredAt  time.Time
	Note        string
}

type export struct {
	ID        int64
	UserID    int64
	Month     time.Time
	JobID     string
	CreatedAt time.Time
}

// New creates a stub server. Call Start before serving requests so that
// export jobs are processed.
func New(opts Options) (*Server, error) {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("change-me-in-prod")
	}
	if opts.KeyStyle == "" {
		opts.KeyStyle = KeyStyleSnake
	}
	if opts.KeyStyle != KeyStyleSnake && opts.KeyStyle != KeyStylePascal {
		return nil, fmt.Errorf("unknown key style %q", opts.KeyStyle)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ExportDir == "" {
		dir, err := os.MkdirTemp("", "ledgerstub-exports-")
		if err != nil {
			return nil, fmt.Errorf("failed to create export dir: %w", err)
		}
		opts.ExportDir = dir
	}
	if err := os.MkdirAll(opts.ExportDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	store := inmemory.NewStore()
	queue := inmemory.NewQueue(100, opts.Workers, store)
	queue.SetRetryBackoff(10 * time.Millisecond)

	return &Server{
		opts:     opts,
		log:      opts.Log,
		store:    store,
		queue:    queue,
		users:    make(map[string]*user),
		accounts: make(map[int64]*account),
		exports:  make(map[int64]*export),
		nextID:   make(map[string]int64),
	}, nil
}

// ExportDir is the directory export files are written to.
func (s *Server) ExportDir() string {
	return s.opts.ExportDir
}

// Start launches the export workers.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info().
		Int("workers", s.opts.Workers).
		Str("export_dir", s.opts.ExportDir).
		Msg("Starting export workers")
	return s.queue.Start(ctx, s.runExport)
}

// Stop stops the export workers and waits for in-flight jobs.
func (s *Server) Stop(ctx context.Context) error {
	return s.queue.Stop(ctx)
}

// Jobs lists export jobs, most useful in tests.
func (s *Server) Jobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ExportJob, error) {
	return s.store.ListJobs(ctx, filter)
}

// Handler returns the HTTP routes of the stub.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(s.log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.log))
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Post("/auth/register", s.register)
	r.Post("/auth/login", s.login)

	r.Post("/exports", s.createExport)
	r.Get("/exports/{id}/status", s.exportStatus)
	r.With(middleware.Auth(s.verifyToken)).Get("/exports/{id}/download", s.downloadExport)

	r.Route("/v1", func(rt chi.Router) {
		rt.Use(middleware.Auth(s.verifyToken))
		rt.Post("/accounts", s.createAccount)
		rt.Post("/transactions", s.createTransaction)
		rt.Post("/exports", s.createExport)
		rt.Get("/exports/{id}/status", s.exportStatus)
	})

	return r
}

// id hands out sequential ids per entity kind, starting at 1.
// Callers hold s.mu.
func (s *Server) id(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}
