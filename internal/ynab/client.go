// Package ynab is a minimal HTTP client for the YNAB budgeting API.
//
// It covers the calls the sync engine needs: listing budgets, fetching
// transaction and category deltas with server knowledge, and writing
// transactions and month category budgets. Retry is not handled here; see
// package gateway.
package ynab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/oapi-codegen/runtime"
)

// DefaultServer is the production API root.
const DefaultServer = "https://api.ynab.com/v1"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// HttpRequestDoer performs HTTP requests.
//
// The standard http.Client implements this interface.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestEditorFn is called on every request before it is sent.
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// Client talks to the YNAB API on behalf of one access token.
type Client struct {
	// Server is the API root with a trailing slash.
	Server string

	// Client performs the requests. Defaults to an http.Client.
	Client HttpRequestDoer

	// RequestEditors run on every request after authentication is set.
	RequestEditors []RequestEditorFn

	token string
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a client for server authenticated with token.
func NewClient(server, token string, opts ...ClientOption) (*Client, error) {
	if server == "" {
		server = DefaultServer
	}
	client := Client{
		Server: server,
		token:  token,
	}
	for _, o := range opts {
		if err := o(&client); err != nil {
			return nil, err
		}
	}
	// ensure the server URL always has a trailing slash
	if !strings.HasSuffix(client.Server, "/") {
		client.Server += "/"
	}
	if client.Client == nil {
		client.Client = &http.Client{}
	}
	return &client, nil
}

// WithHTTPClient overrides the default Doer. This is useful for tests.
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

// WithRequestEditorFn adds a request editor, e.g. to set a User-Agent.
func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.RequestEditors = append(c.RequestEditors, fn)
		return nil
	}
}

// GetBudgets lists the budgets visible to the token.
func (c *Client) GetBudgets(ctx context.Context) ([]BudgetSummary, error) {
	var out struct {
		Data struct {
			Budgets []BudgetSummary `json:"budgets"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "budgets", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Data.Budgets == nil {
		return []BudgetSummary{}, nil
	}
	return out.Data.Budgets, nil
}

// GetTransactions fetches transactions changed since lastKnowledge.
// A zero lastKnowledge fetches every transaction.
func (c *Client) GetTransactions(ctx context.Context, budgetID string, lastKnowledge uint64) (Delta, error) {
	path, err := buildPath("budgets/%s/transactions", budgetID)
	if err != nil {
		return Delta{}, err
	}

	var out struct {
		Data struct {
			Transactions    []Entity `json:"transactions"`
			ServerKnowledge uint64   `json:"server_knowledge"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, knowledgeQuery(lastKnowledge), nil, &out); err != nil {
		return Delta{}, err
	}
	return Delta{Entities: nonNil(out.Data.Transactions), ServerKnowledge: out.Data.ServerKnowledge}, nil
}

// GetCategories fetches categories changed since lastKnowledge, flattened
// out of their category groups.
func (c *Client) GetCategories(ctx context.Context, budgetID string, lastKnowledge uint64) (Delta, error) {
	path, err := buildPath("budgets/%s/categories", budgetID)
	if err != nil {
		return Delta{}, err
	}

	var out struct {
		Data struct {
			CategoryGroups []struct {
				Categories []Entity `json:"categories"`
			} `json:"category_groups"`
			ServerKnowledge uint64 `json:"server_knowledge"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, knowledgeQuery(lastKnowledge), nil, &out); err != nil {
		return Delta{}, err
	}

	entities := []Entity{}
	for _, group := range out.Data.CategoryGroups {
		entities = append(entities, group.Categories...)
	}
	return Delta{Entities: entities, ServerKnowledge: out.Data.ServerKnowledge}, nil
}

// CreateTransaction creates a transaction from tx. Read-only fields in tx
// are dropped before sending. Returns the created transaction.
func (c *Client) CreateTransaction(ctx context.Context, budgetID string, tx json.RawMessage) (json.RawMessage, error) {
	path, err := buildPath("budgets/%s/transactions", budgetID)
	if err != nil {
		return nil, err
	}
	body, err := writableTransaction(tx)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data struct {
			Transaction json.RawMessage `json:"transaction"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]any{"transaction": body}, &out); err != nil {
		return nil, err
	}
	if len(out.Data.Transaction) == 0 {
		return nil, fmt.Errorf("ynab: create transaction: no transaction in response")
	}
	return out.Data.Transaction, nil
}

// UpdateTransaction replaces the writable fields of transaction txID.
func (c *Client) UpdateTransaction(ctx context.Context, budgetID, txID string, tx json.RawMessage) (json.RawMessage, error) {
	path, err := buildPath("budgets/%s/transactions/%s", budgetID, txID)
	if err != nil {
		return nil, err
	}
	body, err := writableTransaction(tx)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data struct {
			Transaction json.RawMessage `json:"transaction"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPut, path, nil, map[string]any{"transaction": body}, &out); err != nil {
		return nil, err
	}
	return out.Data.Transaction, nil
}

// DeleteTransaction deletes transaction txID.
func (c *Client) DeleteTransaction(ctx context.Context, budgetID, txID string) error {
	path, err := buildPath("budgets/%s/transactions/%s", budgetID, txID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// UpdateMonthCategory sets the budgeted amount (milliunits) of a category
// for month, which is an ISO date ("2026-01-01") or "current".
func (c *Client) UpdateMonthCategory(ctx context.Context, budgetID, month, categoryID string, budgeted int64) error {
	path, err := buildPath("budgets/%s/months/%s/categories/%s", budgetID, month, categoryID)
	if err != nil {
		return err
	}
	body := map[string]any{"category": map[string]int64{"budgeted": budgeted}}
	return c.do(ctx, http.MethodPatch, path, nil, body, nil)
}

// do sends one request and decodes the data envelope into out (if non-nil).
// Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("ynab: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("ynab: %s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ynab: %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	serverURL, err := url.Parse(c.Server)
	if err != nil {
		return nil, fmt.Errorf("ynab: parse server url: %w", err)
	}
	queryURL, err := serverURL.Parse("./" + path)
	if err != nil {
		return nil, fmt.Errorf("ynab: build url: %w", err)
	}
	if len(query) > 0 {
		queryURL.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ynab: encode request: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, queryURL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("ynab: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	for _, edit := range c.RequestEditors {
		if err := edit(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// buildPath escapes each path parameter in simple style and fills format.
func buildPath(format string, params ...string) (string, error) {
	styled := make([]any, len(params))
	for i, p := range params {
		if p == "" {
			return "", fmt.Errorf("ynab: empty path parameter %d in %q", i, format)
		}
		s, err := runtime.StyleParamWithLocation("simple", false, "param", runtime.ParamLocationPath, p)
		if err != nil {
			return "", fmt.Errorf("ynab: style path parameter: %w", err)
		}
		styled[i] = s
	}
	return fmt.Sprintf(format, styled...), nil
}

func knowledgeQuery(lastKnowledge uint64) url.Values {
	if lastKnowledge == 0 {
		return nil
	}
	return url.Values{"last_knowledge_of_server": {strconv.FormatUint(lastKnowledge, 10)}}
}

func nonNil(entities []Entity) []Entity {
	if entities == nil {
		return []Entity{}
	}
	return entities
}
