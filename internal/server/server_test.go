package server_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blockserver/internal/auth"
	"blockserver/internal/database"
	"blockserver/internal/dbpool"
	"blockserver/internal/metrics"
	"blockserver/internal/server"
	"blockserver/internal/transfer"
	"blockserver/internal/workerpool"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const (
	TestToken    = "MAGICFARYDUST"
	TestUser     = auth.DefaultUserID
	TestQuota    = 1 << 20
	Authorized   = "Token " + TestToken
	Unauthorized = "Token WRONG"
)

// spyBackend counts transfer calls and can inject failures.
type spyBackend struct {
	transfer.Backend

	mu        sync.Mutex
	stores    int
	retrieves int
	deletes   int
	sizes     int
	fail      error
	onStore   func(ctx context.Context)
}

func (b *spyBackend) Store(ctx context.Context, obj transfer.StorageObject) (transfer.StorageObject, int64, error) {
	b.mu.Lock()
	b.stores++
	fail, hook := b.fail, b.onStore
	b.mu.Unlock()
	if fail != nil {
		return transfer.StorageObject{}, 0, fail
	}
	if hook != nil {
		hook(ctx)
	}
	return b.Backend.Store(ctx, obj)
}

func (b *spyBackend) Retrieve(ctx context.Context, obj transfer.StorageObject) (*transfer.StorageObject, error) {
	b.mu.Lock()
	b.retrieves++
	fail := b.fail
	b.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return b.Backend.Retrieve(ctx, obj)
}

func (b *spyBackend) Delete(ctx context.Context, obj transfer.StorageObject) (int64, error) {
	b.mu.Lock()
	b.deletes++
	fail := b.fail
	b.mu.Unlock()
	if fail != nil {
		return 0, fail
	}
	return b.Backend.Delete(ctx, obj)
}

func (b *spyBackend) Size(ctx context.Context, obj transfer.StorageObject) (int64, bool, error) {
	b.mu.Lock()
	b.sizes++
	b.mu.Unlock()
	return b.Backend.Size(ctx, obj)
}

// dispatches counts the calls that move file bodies.
func (b *spyBackend) dispatches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stores + b.retrieves + b.deletes
}

func (b *spyBackend) sizeLookups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sizes
}

// setStoreHook runs hook inside every Store before the object is written.
func (b *spyBackend) setStoreHook(hook func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStore = hook
}

func (b *spyBackend) setFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// spyPolicy records its inputs and answers with fixed decisions.
type spyPolicy struct {
	mu            sync.Mutex
	allowDownload bool
	allowUpload   bool
	downloads     int
	uploads       int
	last          policyCall
}

type policyCall struct {
	traffic   int64
	reached   bool
	delta     int64
	block     bool
	overwrite bool
}

func (p *spyPolicy) Download(traffic int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads++
	p.last.traffic = traffic
	return p.allowDownload
}

func (p *spyPolicy) Upload(reached bool, delta int64, isBlock bool, isOverwrite bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads++
	p.last.reached, p.last.delta, p.last.block, p.last.overwrite = reached, delta, isBlock, isOverwrite
	return p.allowUpload
}

func (p *spyPolicy) allow(download bool, upload bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowDownload, p.allowUpload = download, upload
}

func (p *spyPolicy) lastCall() policyCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *spyPolicy) uploadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploads
}

// countingPool counts purges of the wrapped pool.
type countingPool struct {
	*dbpool.SQLPool
	purges atomic.Int32
}

func (p *countingPool) Purge() {
	p.purges.Add(1)
	p.SQLPool.Purge()
}

type TestServer struct {
	*httptest.Server

	// Handler is the API handler served by Server, for requests that need
	// bodies a real client cannot send.
	Handler http.Handler

	DB       *sql.DB
	Pool     *countingPool
	Broker   *dbpool.Broker
	Backend  *spyBackend
	Policy   *spyPolicy
	Metrics  *metrics.Recorder
	Prefix   string
	FilesURL string
	TempDir  string
}

type TestOption func(*testSetup)

type testSetup struct {
	maxConns       int
	acquireTimeout time.Duration
}

func WithMaxConns(n int) TestOption {
	return func(s *testSetup) {
		s.maxConns = n
	}
}

func WithAcquireTimeout(d time.Duration) TestOption {
	return func(s *testSetup) {
		s.acquireTimeout = d
	}
}

// NewTestServer creates a Server backed by a temporary SQLite database and
// local file storage, with one prefix owned by TestUser.
func NewTestServer(t *testing.T, opts ...TestOption) *TestServer {
	t.Helper()

	setup := testSetup{maxConns: 4, acquireTimeout: time.Second}
	for _, opt := range opts {
		opt(&setup)
	}

	dataDir := t.TempDir()

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "users.sqlite"))
	require.NoError(t, err, "open sqlite")
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(t.Context(), db), "migrate")

	prefix, err := database.New(db, TestQuota).CreatePrefix(t.Context(), TestUser)
	require.NoError(t, err, "create prefix")

	pool := &countingPool{SQLPool: dbpool.NewSQLPool(db, setup.maxConns)}
	broker := dbpool.NewBroker(pool, setup.acquireTimeout)

	local, err := transfer.NewLocal(filepath.Join(dataDir, "storage"))
	require.NoError(t, err, "NewLocal error")
	backend := &spyBackend{Backend: local}

	policy := &spyPolicy{allowDownload: true, allowUpload: true}
	recorder := metrics.NewRecorder()
	tempDir := t.TempDir()

	srv, err := server.NewServer(server.NewConfig(
		server.WithBroker(broker),
		server.WithAuthBackend(auth.NewDummyBackend(TestToken)),
		server.WithDispatcher(transfer.NewDispatcher(backend, workerpool.New(4))),
		server.WithPolicy(policy),
		server.WithMetrics(recorder),
		server.WithTempDir(tempDir),
		server.WithDefaultQuota(TestQuota),
	))
	require.NoError(t, err, "NewServer error")

	handler := srv.Handler()
	httpSrv := httptest.NewServer(handler)
	t.Cleanup(httpSrv.Close)

	return &TestServer{
		Server:   httpSrv,
		Handler:  handler,
		DB:       db,
		Pool:     pool,
		Broker:   broker,
		Backend:  backend,
		Policy:   policy,
		Metrics:  recorder,
		Prefix:   prefix,
		FilesURL: httpSrv.URL + "/api/v0/files/" + prefix + "/",
		TempDir:  tempDir,
	}
}

// FinishedRequests returns how many requests have completed, as seen by the
// latency histogram. It is safe to call from require.Eventually.
func (ts *TestServer) FinishedRequests() uint64 {
	mfs, err := ts.Metrics.Registry().Gather()
	if err != nil {
		return 0
	}
	for _, mf := range mfs {
		if mf.GetName() == "block_response_time_seconds" {
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

// RequireTempDirEmpty waits for every upload temp file to be removed.
func (ts *TestServer) RequireTempDirEmpty(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(ts.TempDir)
		return err == nil && len(entries) == 0
	}, time.Second, 5*time.Millisecond, "upload temp file left behind")
}

// RequireNoLeak waits for every borrowed connection to be returned.
func (ts *TestServer) RequireNoLeak(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ts.DB.Stats().InUse == 0
	}, time.Second, 5*time.Millisecond, "database connection leaked")
}

// Usage returns the stored size and download traffic of TestUser.
func (ts *TestServer) Usage(t *testing.T) (size int64, traffic int64) {
	t.Helper()
	err := ts.DB.QueryRowContext(t.Context(),
		`SELECT size, download_traffic FROM users WHERE user_id = $1`, TestUser,
	).Scan(&size, &traffic)
	require.NoError(t, err, "reading usage")
	return size, traffic
}

type RequestOption func(*http.Request)

func WithContent(body []byte) func(*http.Request) {
	return func(req *http.Request) {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/octet-stream")
		}
	}
}

func WithHeader(key string, value string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

func WithAuth(credential string) func(*http.Request) {
	return WithHeader("Authorization", credential)
}

func DoMethod(t *testing.T, method string, url string, opts ...RequestOption) *http.Response {
	t.Helper()
	client := http.DefaultClient
	req, err := http.NewRequestWithContext(t.Context(), method, url, nil)
	require.NoError(t, err, "creating "+method+" request")
	for _, opt := range opts {
		opt(req)
	}
	resp, err := client.Do(req)
	require.NoErrorf(t, err, "%s %s error", method, url)
	return resp
}

func DoGet(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodGet, url, opts...)
}

func DoPost(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodPost, url, opts...)
}

func DoDelete(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodDelete, url, opts...)
}

// ReadBody drains and closes the response body.
func ReadBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "reading response body")
	return body
}

// DecodeError decodes a JSON error response and returns its reason.
func DecodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "decoding error JSON")
	return body.Error
}
