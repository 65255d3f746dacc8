package uptimelinesdk

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

	"uptimeline/internal/domain"
)

// Client is a minimal Uptimeline HTTP API client. It satisfies the keeper's
// Upkeeper interface, so a keeper can drive a remote node.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set. Only
	// servers started with legacy headers enabled accept it.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type (
	Domain       = domain.Domain
	Validator    = domain.Validator
	Job          = domain.Job
	Cycle        = domain.Cycle
	Stats        = domain.Stats
	Status       = domain.Status
	Transfer     = domain.Transfer
	UpkeepProbe  = domain.UpkeepProbe
	UpkeepResult = domain.UpkeepResult
)

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Result is one validator's check report.
type Result struct {
	IsUp           bool   `json:"is_up"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) RegisterDomain(ctx context.Context, domainID string, intervalSeconds, stake int64) (Domain, error) {
	body := map[string]any{
		"domain_id":        domainID,
		"interval_seconds": intervalSeconds,
		"stake":            stake,
	}
	var resp Domain
	err := c.do(ctx, http.MethodPost, "domains", body, &resp)
	return resp, err
}

func (c *Client) GetDomain(ctx context.Context, domainID string) (Domain, error) {
	var resp Domain
	err := c.do(ctx, http.MethodGet, domainPath(domainID, ""), nil, &resp)
	return resp, err
}

func (c *Client) Stake(ctx context.Context, domainID string, amount int64) (Domain, error) {
	var resp Domain
	err := c.do(ctx, http.MethodPost, domainPath(domainID, "stake"), map[string]any{"amount": amount}, &resp)
	return resp, err
}

func (c *Client) Withdraw(ctx context.Context, domainID string, amount int64) (Domain, error) {
	var resp Domain
	err := c.do(ctx, http.MethodPost, domainPath(domainID, "withdraw"), map[string]any{"amount": amount}, &resp)
	return resp, err
}

func (c *Client) UnregisterDomain(ctx context.Context, domainID string) (Domain, error) {
	var resp Domain
	err := c.do(ctx, http.MethodDelete, domainPath(domainID, ""), nil, &resp)
	return resp, err
}

// DomainStatus returns the consensus label: UP, DOWN, UNKNOWN or NO_CONSENSUS.
func (c *Client) DomainStatus(ctx context.Context, domainID string) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, domainPath(domainID, "status"), nil, &resp)
	return resp, err
}

func (c *Client) DomainStats(ctx context.Context, domainID string) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, domainPath(domainID, "stats"), nil, &resp)
	return resp, err
}

// RegisterValidator enrolls the authenticated caller.
func (c *Client) RegisterValidator(ctx context.Context) (Validator, error) {
	var resp Validator
	err := c.do(ctx, http.MethodPost, "validators", nil, &resp)
	return resp, err
}

// PendingJobs lists open jobs of a validator.
func (c *Client) PendingJobs(ctx context.Context, validatorID string) ([]Job, error) {
	var resp struct {
		Items []Job `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("validators/%s/jobs", url.PathEscape(validatorID)), nil, &resp)
	return resp.Items, err
}

func (c *Client) LatestCycle(ctx context.Context, domainID string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodGet, domainPath(domainID, "cycles/latest"), nil, &resp)
	return resp, err
}

// SubmitResult reports the caller's verdict for a cycle.
func (c *Client) SubmitResult(ctx context.Context, domainID string, cycleID int64, r Result) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, domainPath(domainID, fmt.Sprintf("cycles/%d/results", cycleID)), r, &resp)
	return resp, err
}

func (c *Client) FinalizeCycle(ctx context.Context, domainID string, cycleID int64) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, domainPath(domainID, fmt.Sprintf("cycles/%d/finalize", cycleID)), nil, &resp)
	return resp, err
}

func (c *Client) FundPool(ctx context.Context, amount int64) (int64, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "rewards/fund", map[string]any{"amount": amount}, &resp)
	return resp.Balance, err
}

func (c *Client) CheckUpkeep(ctx context.Context) (UpkeepProbe, error) {
	var resp UpkeepProbe
	err := c.do(ctx, http.MethodGet, "upkeep", nil, &resp)
	return resp, err
}

// PerformUpkeep asks the node to open one due cycle. The caller argument is
// ignored; the node attributes the call to the client's credentials.
func (c *Client) PerformUpkeep(ctx context.Context, domainID, _ string) (UpkeepResult, error) {
	var resp UpkeepResult
	err := c.do(ctx, http.MethodPost, "upkeep", map[string]any{"domain_id": domainID}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func domainPath(domainID, rest string) string {
	p := "domains/" + url.PathEscape(domainID)
	if rest != "" {
		p += "/" + rest
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
