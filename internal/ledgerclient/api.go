package ledgerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Credentials are sent to /auth/register and /auth/login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AccountRequest is the body of POST /v1/accounts.
type AccountRequest struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// TransactionRequest is the body of POST /v1/transactions.
// OccurredAt is already formatted as YYYY-MM-DDTHH:MM:SSZ.
type TransactionRequest struct {
	UserID      int64  `json:"user_id"`
	AccountID   ID     `json:"account_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	OccurredAt  string `json:"occurred_at"`
	Note        string `json:"note"`
}

// ID is a resource id in the JSON kind the ledger returned it in: numeric
// ids marshal back as JSON numbers, string ids as JSON strings.
type ID struct {
	text    string
	numeric bool
}

// StringID builds an id the ledger sent as a JSON string.
func StringID(s string) ID {
	return ID{text: s}
}

// NumberID builds an id the ledger sent as a JSON number.
func NumberID(n json.Number) ID {
	return ID{text: n.String(), numeric: true}
}

// IDFromValue converts a decoded JSON value (json.Number, float64 or string)
// into an ID, keeping its kind.
func IDFromValue(v any) (ID, bool) {
	switch t := v.(type) {
	case string:
		return StringID(t), t != ""
	case json.Number:
		return NumberID(t), t != ""
	case float64:
		return NumberID(json.Number(strconv.FormatFloat(t, 'f', -1, 64))), true
	default:
		return ID{}, false
	}
}

// String returns the id text without JSON quoting.
func (id ID) String() string {
	return id.text
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id.text == ""
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric && json.Valid([]byte(id.text)) {
		return []byte(id.text), nil
	}
	return json.Marshal(id.text)
}

// Bearer builds the Authorization header for tok.
func Bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

// Register calls POST /auth/register.
func (c *Client) Register(ctx context.Context, creds Credentials) Result {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/register", Body: creds})
}

// Login calls POST /auth/login.
func (c *Client) Login(ctx context.Context, creds Credentials) Result {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/login", Body: creds})
}

// CreateAccount calls POST /v1/accounts.
func (c *Client) CreateAccount(ctx context.Context, tok string, req AccountRequest) Result {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/v1/accounts", Body: req, Headers: Bearer(tok)})
}

// CreateTransaction calls POST /v1/transactions.
func (c *Client) CreateTransaction(ctx context.Context, tok string, req TransactionRequest) Result {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/v1/transactions", Body: req, Headers: Bearer(tok)})
}

// CreateExport calls POST /exports?month=YYYY-MM without a body.
func (c *Client) CreateExport(ctx context.Context, tok, month string) Result {
	path := "/exports?" + url.Values{"month": {month}}.Encode()
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Headers: Bearer(tok)})
}

// ExportStatus calls GET /exports/{id}/status. It is unauthenticated.
func (c *Client) ExportStatus(ctx context.Context, id string) Result {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: "/exports/" + url.PathEscape(id) + "/status"})
}

// DownloadExport calls GET /exports/{id}/download.
func (c *Client) DownloadExport(ctx context.Context, tok, id string) Result {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: "/exports/" + url.PathEscape(id) + "/download", Headers: Bearer(tok)})
}

// Health calls GET /healthz.
func (c *Client) Health(ctx context.Context) Result {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: "/healthz"})
}
