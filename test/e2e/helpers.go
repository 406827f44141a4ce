//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/api/handlers"
	"github.com/cloo-solutions/servicechunks/internal/api/middleware"
	"github.com/cloo-solutions/servicechunks/internal/jobs"
	"github.com/cloo-solutions/servicechunks/internal/qa"
	"github.com/cloo-solutions/servicechunks/internal/repository"
	"github.com/cloo-solutions/servicechunks/internal/server"
	"github.com/cloo-solutions/servicechunks/internal/service"
	"github.com/cloo-solutions/servicechunks/internal/testutil"
)

const e2eAPIKey = "sck_e2e0123456789abcdef0123456789abcdef"

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	Chunks       *service.ChunkService
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres, migrates it and serves the API in-process.
// No oracle is configured, so QA runs the static rules only.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	logger := zap.NewNop()
	chunkRepo := repository.NewChunkRepository(pool)
	chunks := service.NewChunkService(chunkRepo, nil, logger)
	qaSvc := service.NewQAService(chunkRepo, repository.NewTxRunner(pool), qa.NewAgent(nil), nil, logger)
	reports := service.NewReportService(chunkRepo, repository.NewReportRepository(pool), logger)

	router := server.NewRouter(server.RouterConfig{
		AuthValidator: middleware.NewStaticKeys([]string{e2eAPIKey}),
		Logger:        logger,
		Database:      pool,
		QAHandler:     handlers.NewQAHandler(qaSvc, reports, idleCycles{}),
		ChunkHandler:  handlers.NewChunkHandler(chunks, nil),
	})
	srv := httptest.NewServer(router)

	env := &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		Chunks:       chunks,
		ServerURL:    srv.URL,
		ServerCloser: srv.Close,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
	t.Cleanup(env.Cleanup)
	return env
}

func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		_ = e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		_ = os.RemoveAll(e.BinaryDir)
	}
}

// idleCycles stands in for the scheduler, which these tests never start
type idleCycles struct{}

func (idleCycles) TriggerCycle(context.Context) error { return jobs.ErrCycleInProgress }
func (idleCycles) Health() jobs.Health                { return jobs.Health{} }

// BuildBinaries builds chunkctl into a temp dir
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "servicechunks-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "chunkctl"), "./cmd/chunkctl")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build chunkctl: %v\n%s", err, out)
	}
}

// RunChunkctl runs the CLI against the test server with an isolated config dir
func (e *E2ETestEnv) RunChunkctl(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "chunkctl"), args...)
	cmd.Env = append(os.Environ(),
		"CHUNKS_API_KEY="+e2eAPIKey,
		"CHUNKS_API_URL="+e.ServerURL,
		"XDG_CONFIG_HOME="+e.T.TempDir(),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse mirrors the server's envelope
type APIResponse struct {
	StatusCode int
	Data       json.RawMessage   `json:"data,omitempty"`
	Error      string            `json:"error,omitempty"`
	Code       string            `json:"code,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, e2eAPIKey)
}

func (e *E2ETestEnv) Post(path string, body any) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, e2eAPIKey)
}

func (e *E2ETestEnv) GetWithKey(path, key string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, key)
}

func (e *E2ETestEnv) doRequest(method, path string, body any, key string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out := &APIResponse{StatusCode: resp.StatusCode}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("failed to parse response (%d): %s", resp.StatusCode, raw)
		}
	}
	return out, nil
}

// MustData decodes the payload of a response with the expected status
func (e *E2ETestEnv) MustData(resp *APIResponse, status int, dst any) {
	e.T.Helper()
	if resp.StatusCode != status {
		e.T.Fatalf("expected status %d, got %d: %s", status, resp.StatusCode, resp.Error)
	}
	if dst == nil {
		return
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		e.T.Fatalf("failed to decode data: %v", err)
	}
}
