package ynab

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorded is what the fake API saw for one request.
type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

// recorder collects requests seen by the fake API.
type recorder struct {
	mu   sync.Mutex
	seen []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.seen...)
}

func newTestServer(t *testing.T, status int, response string) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.seen = append(rec.seen, recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "secret-token")
	require.NoError(t, err)
	return c, rec
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("", "tok")
	require.NoError(t, err)
	assert.Equal(t, DefaultServer+"/", c.Server)
	assert.NotNil(t, c.Client)
}

func TestGetBudgets(t *testing.T) {
	c, seen := newTestServer(t, http.StatusOK,
		`{"data":{"budgets":[{"id":"b-1","name":"Household","last_modified_on":"2026-01-01T00:00:00Z"}]}}`)

	budgets, err := c.GetBudgets(context.Background())
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "b-1", budgets[0].ID)
	assert.Equal(t, "Household", budgets[0].Name)

	require.Len(t, seen.all(), 1)
	assert.Equal(t, http.MethodGet, seen.all()[0].Method)
	assert.Equal(t, "/budgets", seen.all()[0].Path)
	assert.Equal(t, "Bearer secret-token", seen.all()[0].Auth)
}

func TestGetTransactions_Knowledge(t *testing.T) {
	c, seen := newTestServer(t, http.StatusOK, `{"data":{"transactions":[
		{"id":"tx-1","amount":-1000,"deleted":false},
		{"id":"tx-2","amount":500,"deleted":true}
	],"server_knowledge":42}}`)
	ctx := context.Background()

	delta, err := c.GetTransactions(ctx, "b-1", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), delta.ServerKnowledge)
	require.Len(t, delta.Entities, 2)
	assert.Equal(t, "tx-1", delta.Entities[0].ID)
	assert.False(t, delta.Entities[0].Deleted)
	assert.True(t, delta.Entities[1].Deleted)
	assert.JSONEq(t, `{"id":"tx-1","amount":-1000,"deleted":false}`, string(delta.Entities[0].Raw))
	assert.Empty(t, seen.all()[0].Query, "full fetch sends no knowledge")

	_, err = c.GetTransactions(ctx, "b-1", 17)
	require.NoError(t, err)
	assert.Equal(t, "/budgets/b-1/transactions", seen.all()[1].Path)
	assert.Equal(t, "last_knowledge_of_server=17", seen.all()[1].Query)
}

func TestGetCategories_FlattensGroups(t *testing.T) {
	c, seen := newTestServer(t, http.StatusOK, `{"data":{"category_groups":[
		{"id":"g-1","categories":[{"id":"c-1","budgeted":1000}]},
		{"id":"g-2","categories":[{"id":"c-2","budgeted":0,"deleted":true}]}
	],"server_knowledge":9}}`)

	delta, err := c.GetCategories(context.Background(), "b-1", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), delta.ServerKnowledge)
	require.Len(t, delta.Entities, 2)
	assert.Equal(t, "c-1", delta.Entities[0].ID)
	assert.Equal(t, "c-2", delta.Entities[1].ID)
	assert.True(t, delta.Entities[1].Deleted)
	assert.Equal(t, "/budgets/b-1/categories", seen.all()[0].Path)
}

func TestCreateTransaction_SendsWritableFields(t *testing.T) {
	c, seen := newTestServer(t, http.StatusCreated,
		`{"data":{"transaction":{"id":"tx-new","amount":-1000}}}`)

	tx := json.RawMessage(`{"id":"tx-old","account_id":"acc-1","account_name":"Checking","date":"2026-01-15","amount":-1000,"deleted":false,"memo":"lunch"}`)
	created, err := c.CreateTransaction(context.Background(), "b-1", tx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"tx-new","amount":-1000}`, string(created))

	got := seen.all()[0]
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/budgets/b-1/transactions", got.Path)
	assert.JSONEq(t,
		`{"transaction":{"account_id":"acc-1","date":"2026-01-15","amount":-1000,"memo":"lunch"}}`,
		got.Body)
}

func TestUpdateAndDeleteTransaction(t *testing.T) {
	c, seen := newTestServer(t, http.StatusOK, `{"data":{"transaction":{"id":"tx-1"}}}`)
	ctx := context.Background()

	_, err := c.UpdateTransaction(ctx, "b-1", "tx-1", json.RawMessage(`{"id":"tx-1","amount":5}`))
	require.NoError(t, err)
	require.NoError(t, c.DeleteTransaction(ctx, "b-1", "tx-1"))

	require.Len(t, seen.all(), 2)
	assert.Equal(t, http.MethodPut, seen.all()[0].Method)
	assert.Equal(t, "/budgets/b-1/transactions/tx-1", seen.all()[0].Path)
	assert.JSONEq(t, `{"transaction":{"amount":5}}`, seen.all()[0].Body)
	assert.Equal(t, http.MethodDelete, seen.all()[1].Method)
	assert.Equal(t, "/budgets/b-1/transactions/tx-1", seen.all()[1].Path)
}

func TestUpdateMonthCategory(t *testing.T) {
	c, seen := newTestServer(t, http.StatusOK, `{"data":{"category":{"id":"c-1"}}}`)

	require.NoError(t, c.UpdateMonthCategory(context.Background(), "b-1", "current", "c-1", 25000))

	got := seen.all()[0]
	assert.Equal(t, http.MethodPatch, got.Method)
	assert.Equal(t, "/budgets/b-1/months/current/categories/c-1", got.Path)
	assert.JSONEq(t, `{"category":{"budgeted":25000}}`, got.Body)
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantName  string
		temporary bool
	}{
		{"not found", http.StatusNotFound, `{"error":{"id":"404.2","name":"resource_not_found","detail":"Resource not found"}}`, "resource_not_found", false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"id":"429","name":"too_many_requests","detail":"Too many requests"}}`, "too_many_requests", true},
		{"server error without envelope", http.StatusBadGateway, `upstream down`, "", true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"id":"401","name":"unauthorized","detail":"Unauthorized"}}`, "unauthorized", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestServer(t, tt.status, tt.body)

			_, err := c.GetBudgets(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantName, apiErr.Name)
			assert.Equal(t, tt.temporary, apiErr.Temporary())
			assert.Contains(t, err.Error(), "HTTP")
		})
	}
}

func TestRequestEditor(t *testing.T) {
	agents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		_, _ = io.WriteString(w, `{"data":{"budgets":[]}}`)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "tok", WithRequestEditorFn(func(_ context.Context, req *http.Request) error {
		req.Header.Set("User-Agent", "ynabsync-test")
		return nil
	}))
	require.NoError(t, err)

	budgets, err := c.GetBudgets(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, budgets)
	assert.Empty(t, budgets)
	assert.Equal(t, "ynabsync-test", <-agents)
}

func TestEmptyPathParameter(t *testing.T) {
	c, seen := newTestServer(t, http.StatusOK, `{}`)

	err := c.DeleteTransaction(context.Background(), "b-1", "")
	require.Error(t, err)
	assert.Empty(t, seen.all(), "request never sent")
}
