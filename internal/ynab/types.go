package ynab

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// BudgetSummary is one entry of GET /budgets.
type BudgetSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	LastModifiedOn string `json:"last_modified_on,omitempty"`
	FirstMonth     string `json:"first_month,omitempty"`
	LastMonth      string `json:"last_month,omitempty"`
}

// Entity is a remote transaction or category. Raw keeps the full object
// so it can be staged unchanged; ID and Deleted are decoded for routing.
type Entity struct {
	ID      string
	Deleted bool
	Raw     json.RawMessage
}

// UnmarshalJSON keeps the raw bytes alongside the routing fields.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var head struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	e.ID = head.ID
	e.Deleted = head.Deleted
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the raw object.
func (e Entity) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return []byte("null"), nil
	}
	return e.Raw, nil
}

// Delta is one page of changes and the knowledge to resume from.
type Delta struct {
	Entities        []Entity
	ServerKnowledge uint64
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	ID         string
	Name       string
	Detail     string
}

func (e *APIError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	if e.Name != "" {
		return fmt.Sprintf("ynab: HTTP %d %s: %s", e.StatusCode, e.Name, detail)
	}
	return fmt.Sprintf("ynab: HTTP %d: %s", e.StatusCode, detail)
}

// Temporary reports whether the failure is worth retrying: rate limiting
// or a server-side error.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Detail string `json:"detail"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Name != "" {
		apiErr.ID = envelope.Error.ID
		apiErr.Name = envelope.Error.Name
		apiErr.Detail = envelope.Error.Detail
		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(body))
	if len(apiErr.Detail) > 200 {
		apiErr.Detail = apiErr.Detail[:200]
	}
	return apiErr
}

// transactionFields are the fields the API accepts when writing a transaction.
var transactionFields = []string{
	"account_id", "date", "amount", "payee_id", "payee_name", "category_id",
	"memo", "cleared", "approved", "flag_color", "import_id", "subtransactions",
}

// writableTransaction drops read-only fields (id, deleted, account_name, ...)
// from a staged transaction payload.
func writableTransaction(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("ynab: decode transaction: %w", err)
	}
	out := make(map[string]json.RawMessage, len(transactionFields))
	for _, f := range transactionFields {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}
