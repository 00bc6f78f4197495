package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"budgetsync/internal/budget"
	"budgetsync/internal/model"
)

const maxResponseBytes = 4 << 20

// HTTPRemote talks to the budget API:
//
//	GET  {base}/budget?month=YYYY-MM   -> {"budget": {...} | null}
//	POST {base}/budget                 <- document JSON
//
// Responses may be wrapped in {"success": bool, "data": ..., "timestamp": ...}.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
	token   TokenSource
	clock   budget.Clock
	logger  budget.Logger
}

var _ budget.Remote = (*HTTPRemote)(nil)

// NewHTTPRemote creates a remote for the API at baseURL. A zero timeout
// leaves the client without one; callers bound requests with ctx.
func NewHTTPRemote(baseURL string, token TokenSource, timeout time.Duration, clock budget.Clock, logger budget.Logger) (*HTTPRemote, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base_url required for http remote")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base_url: %w", err)
	}
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		token:   token,
		clock:   clock,
		logger:  logger,
	}, nil
}

// envelope is the optional response wrapper.
type envelope struct {
	Success   *bool           `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
}

// FetchBudget returns the server document for month, or (nil, nil).
func (r *HTTPRemote) FetchBudget(ctx context.Context, month string) (*model.Document, error) {
	u := r.baseURL + "/budget?" + url.Values{"month": {month}}.Encode()
	body, err := r.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching budget %s: %w", month, err)
	}

	var payload struct {
		Budget json.RawMessage `json:"budget"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding budget response: %w", err)
	}
	if len(payload.Budget) == 0 || string(payload.Budget) == "null" {
		return nil, nil
	}

	var doc model.Document
	if err := json.Unmarshal(payload.Budget, &doc); err != nil {
		return nil, fmt.Errorf("decoding budget: %w", err)
	}
	if doc.Month == "" {
		doc.Month = month
	}
	return &doc, nil
}

// SaveBudget replaces the server document for doc.Month.
func (r *HTTPRemote) SaveBudget(ctx context.Context, doc *model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding budget: %w", err)
	}
	if _, err := r.do(ctx, http.MethodPost, r.baseURL+"/budget", data); err != nil {
		return fmt.Errorf("saving budget %s: %w", doc.Month, err)
	}
	return nil
}

// do sends one request and returns the unwrapped response data.
func (r *HTTPRemote) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	token, err := r.token(ctx)
	if err != nil {
		return nil, err
	}
	if claims, err := InspectToken(token); err == nil && claims.Expired(r.clock.Now()) {
		return nil, ErrTokenExpired
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := r.clock.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readAll(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	r.logger.Debug("remote request", "method", method, "url", u, "status", resp.StatusCode, "duration", r.clock.Now().Sub(start))

	env, wrapped := unwrap(data)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		if wrapped {
			se.Message = firstNonEmpty(env.Error, env.Message)
		}
		return nil, se
	}
	if wrapped {
		if env.Success != nil && !*env.Success {
			return nil, &StatusError{Code: resp.StatusCode, Message: firstNonEmpty(env.Error, env.Message, "request failed")}
		}
		if env.Data != nil {
			return env.Data, nil
		}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("{}"), nil
	}
	return data, nil
}

// unwrap reports whether data is an envelope and decodes it.
func unwrap(data []byte) (envelope, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return envelope{}, false
	}
	_, hasSuccess := fields["success"]
	_, hasData := fields["data"]
	_, hasError := fields["error"]
	if !hasSuccess && !hasData && !hasError {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, false
	}
	return env, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// readAll is io.ReadAll with a cap.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response larger than %d bytes", limit)
	}
	return data, nil
}
