package smoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledgerx-smoke/internal/artifact"
	"github.com/dvloznov/ledgerx-smoke/internal/config"
	"github.com/dvloznov/ledgerx-smoke/internal/ledgerclient"
)

var errRefused = errors.New("dial tcp 127.0.0.1:8080: connect: connection refused")

func ok(body string) ledgerclient.Result {
	return ledgerclient.Result{StatusCode: http.StatusOK, Body: body}
}

func status(code int, body string) ledgerclient.Result {
	return ledgerclient.Result{StatusCode: code, Body: body}
}

func refused() ledgerclient.Result {
	return ledgerclient.Result{Body: errRefused.Error(), Err: errRefused}
}

// mockAPI implements LedgerAPI. Nil funcs answer like a healthy ledger.
type mockAPI struct {
	mu    sync.Mutex
	calls map[string]int

	token    string
	filePath string

	RegisterFunc          func(creds ledgerclient.Credentials) ledgerclient.Result
	LoginFunc             func(creds ledgerclient.Credentials) ledgerclient.Result
	CreateAccountFunc     func(tok string, req ledgerclient.AccountRequest) ledgerclient.Result
	CreateTransactionFunc func(tok string, req ledgerclient.TransactionRequest) ledgerclient.Result
	CreateExportFunc      func(tok, month string) ledgerclient.Result
	ExportStatusFunc      func(id string, call int) ledgerclient.Result
	DownloadExportFunc    func(tok, id string) ledgerclient.Result
	HealthFunc            func(call int) ledgerclient.Result
}

func (m *mockAPI) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
	return m.calls[name]
}

func (m *mockAPI) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockAPI) Register(ctx context.Context, creds ledgerclient.Credentials) ledgerclient.Result {
	m.count("register")
	if m.RegisterFunc != nil {
		return m.RegisterFunc(creds)
	}
	return ok(fmt.Sprintf(`{"token":%q}`, m.token))
}

func (m *mockAPI) Login(ctx context.Context, creds ledgerclient.Credentials) ledgerclient.Result {
	m.count("login")
	if m.LoginFunc != nil {
		return m.LoginFunc(creds)
	}
	return ok(fmt.Sprintf(`{"token":%q}`, m.token))
}

func (m *mockAPI) CreateAccount(ctx context.Context, tok string, req ledgerclient.AccountRequest) ledgerclient.Result {
	m.count("create_account")
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(tok, req)
	}
	return status(http.StatusCreated, `{"id":11,"user_id":7,"name":"Smoke Acc","currency":"USD","active":true}`)
}

func (m *mockAPI) CreateTransaction(ctx context.Context, tok string, req ledgerclient.TransactionRequest) ledgerclient.Result {
	m.count("create_transaction")
	if m.CreateTransactionFunc != nil {
		return m.CreateTransactionFunc(tok, req)
	}
	return ok(`{"ID":1}`)
}

func (m *mockAPI) CreateExport(ctx context.Context, tok, month string) ledgerclient.Result {
	m.count("create_export")
	if m.CreateExportFunc != nil {
		return m.CreateExportFunc(tok, month)
	}
	return ok(`{"id":5,"status":"pending","file_path":null}`)
}

func (m *mockAPI) ExportStatus(ctx context.Context, id string) ledgerclient.Result {
	call := m.count("export_status")
	if m.ExportStatusFunc != nil {
		return m.ExportStatusFunc(id, call)
	}
	return ok(fmt.Sprintf(`{"id":5,"status":"done","file_path":%q}`, m.filePath))
}

func (m *mockAPI) DownloadExport(ctx context.Context, tok, id string) ledgerclient.Result {
	m.count("download_export")
	if m.DownloadExportFunc != nil {
		return m.DownloadExportFunc(tok, id)
	}
	return ok("id,account_id\n")
}

func (m *mockAPI) Health(ctx context.Context) ledgerclient.Result {
	call := m.count("health")
	if m.HealthFunc != nil {
		return m.HealthFunc(call)
	}
	return ok("ok")
}

type mockUploader struct {
	UploadFunc func(ctx context.Context, bucket, object string, r io.Reader) error
}

func (m *mockUploader) Upload(ctx context.Context, bucket, object string, r io.Reader) error {
	return m.UploadFunc(ctx, bucket, object, r)
}

// signedToken returns an HS256 token carrying userID.
func signedToken(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

const exportCSV = "id,account_id,category_id,amount_minor,currency,occurred_at,note\n" +
	"1,11,,500,USD,2025-01-15T10:00:00Z,smoke stdlib\n"

// newMockAPI returns a healthy ledger whose export is a real file in a temp dir.
func newMockAPI(t *testing.T) *mockAPI {
	t.Helper()
	p := filepath.Join(t.TempDir(), "export_5.csv")
	require.NoError(t, os.WriteFile(p, []byte(exportCSV), 0o644))
	return &mockAPI{token: signedToken(t, 7), filePath: p}
}

// testConfig is the default configuration with fast polling.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.PollInterval = time.Millisecond
	cfg.FallbackDir = t.TempDir()
	return cfg
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slept)
}

var fixedNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T, cfg *config.Config, api LedgerAPI, deps Deps) *Runner {
	t.Helper()
	deps.API = api
	if deps.Locator == nil {
		deps.Locator = artifact.NewLocator(cfg.FallbackDir, nil, zerolog.Nop())
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return fixedNow }
	}
	return NewRunner(cfg, deps, "run-test", zerolog.Nop())
}
