package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ynab-sync/internal/model"
)

const grocerTx = `{"id":"t1","account_id":"acc-1","date":"2026-01-14","amount":-12340,"payee_name":"Grocer"}`

// fakeAPI serves one budget with a single transaction. Creates fail with
// createStatus when it is set.
type fakeAPI struct {
	mu           sync.Mutex
	createStatus int
	creates      int
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(srv.Close)
	return api, srv.URL
}

func (a *fakeAPI) failCreates(status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.createStatus = status
}

func (a *fakeAPI) createCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates
}

func (a *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = io.Copy(io.Discard, r.Body)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/budgets":
		_, _ = io.WriteString(w, `{"data":{"budgets":[{"id":"b1","name":"Household","last_modified_on":"2026-01-15T08:00:00Z"}]}}`)
	case r.Method == http.MethodGet && r.URL.Path == "/budgets/b1/transactions":
		_, _ = io.WriteString(w, `{"data":{"transactions":[`+grocerTx+`],"server_knowledge":42}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/budgets/b1/transactions":
		a.creates++
		if a.createStatus != 0 {
			w.WriteHeader(a.createStatus)
			_, _ = io.WriteString(w, `{"error":{"id":"400","name":"bad_request","detail":"account not found"}}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"transaction":{"id":"t1-new"}}}`)
	case r.Method == http.MethodPut && r.URL.Path == "/budgets/b1/transactions/t1":
		_, _ = io.WriteString(w, `{"data":{"transaction":`+grocerTx+`}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"id":"404","name":"not_found","detail":"no route"}}`)
	}
}

// setupEnv points the CLI at apiURL and a fresh database through the
// environment and returns the database path.
func setupEnv(t *testing.T, apiURL string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sync.db")
	t.Setenv("YNAB_TOKEN", "")
	t.Setenv("YNAB_SYNC_TOKEN", "test-token")
	t.Setenv("YNAB_SYNC_API_URL", apiURL)
	t.Setenv("YNAB_SYNC_DATABASE", dbPath)
	t.Setenv("YNAB_SYNC_MAX_ATTEMPTS", "1")
	t.Setenv("YNAB_SYNC_BASE_DELAY", "1ms")
	return dbPath
}

type runResponse struct {
	Status string        `json:"status"`
	Data   model.SyncRun `json:"data"`
	Error  *CLIError     `json:"error"`
}

func decodeRun(t *testing.T, stdout string) runResponse {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	return resp
}

func TestSync_Completed(t *testing.T) {
	api, url := newFakeAPI(t)
	setupEnv(t, url)

	stdout, _, code := runCLI(t, "sync", "b1", "--format", "json")
	require.Equal(t, ExitSuccess, code, stdout)

	resp := decodeRun(t, stdout)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, model.StatusCompleted, resp.Data.Status)
	assert.Equal(t, "b1", resp.Data.BudgetID)
	assert.Equal(t, 1, resp.Data.ItemsProcessed)
	assert.Equal(t, 1, api.createCount())

	stdout, _, code = runCLI(t, "status")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Status:    completed")
	assert.Contains(t, stdout, "Processed: 1")

	stdout, _, code = runCLI(t, "history", "--limit", "5")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, resp.Data.ID)
	assert.Contains(t, stdout, "completed")
}

func TestSync_FailedItemsExitOne(t *testing.T) {
	api, url := newFakeAPI(t)
	setupEnv(t, url)
	api.failCreates(http.StatusBadRequest)

	stdout, stderr, code := runCLI(t, "sync", "b1", "--format", "json")
	assert.Equal(t, ExitFailure, code)
	assert.NotContains(t, stderr, "Error [")

	resp := decodeRun(t, stdout)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, model.StatusFailed, resp.Data.Status)
	assert.Equal(t, 1, resp.Data.ItemsFailed)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "1 of 1 items failed")

	stdout, _, code = runCLI(t, "pending")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No pending items\n", stdout)

	stdout, _, code = runCLI(t, "retry")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Requeued 1 failed items\n", stdout)

	stdout, _, code = runCLI(t, "pending")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Grocer")
	assert.Contains(t, stdout, "-12.34")

	// The next sync drains the requeued create along with the update
	// staged from the same transaction.
	api.failCreates(0)
	stdout, _, code = runCLI(t, "sync", "b1", "--format", "json")
	require.Equal(t, ExitSuccess, code, stdout)
	assert.Equal(t, 2, decodeRun(t, stdout).Data.ItemsProcessed)
}

func TestSync_TextOutput(t *testing.T) {
	_, url := newFakeAPI(t)
	setupEnv(t, url)

	stdout, _, code := runCLI(t, "sync", "b1", "--full")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Budget:    b1")
	assert.Contains(t, stdout, "Status:    completed")
}

func TestSync_MissingToken(t *testing.T) {
	_, url := newFakeAPI(t)
	setupEnv(t, url)
	t.Setenv("YNAB_SYNC_TOKEN", "")

	_, stderr, code := runCLI(t, "sync", "b1")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "Error [CONFIGURATION]")
	assert.Contains(t, stderr, "API token is required")
}

func TestSync_RemoteFetchFailure(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")

	_, stderr, code := runCLI(t, "sync", "b1")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "Error [REMOTE]")
}

func TestSync_RefusesWhileLocked(t *testing.T) {
	_, url := newFakeAPI(t)
	dbPath := setupEnv(t, url)

	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = lock.Unlock() }()

	_, stderr, code := runCLI(t, "sync", "b1")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "another ynab-sync process")
}

func TestSync_DBFlagOverridesEnv(t *testing.T) {
	_, url := newFakeAPI(t)
	setupEnv(t, url)
	flagDB := filepath.Join(t.TempDir(), "flag.db")

	_, _, code := runCLI(t, "sync", "b1", "--db", flagDB)
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := runCLI(t, "history", "--db", flagDB)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "b1")

	stdout, _, code = runCLI(t, "history")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No sync runs yet\n", stdout)
}

func TestBudgets(t *testing.T) {
	_, url := newFakeAPI(t)
	setupEnv(t, url)

	stdout, _, code := runCLI(t, "budgets")
	require.Equal(t, ExitSuccess, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "Household")
}
