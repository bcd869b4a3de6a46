package drawsdk

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
)

// Client is a minimal expert draw HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// DrawRequest is the body of CreateDraw.
type DrawRequest struct {
	Category       string   `json:"category,omitempty"`
	Subcategory    string   `json:"subcategory,omitempty"`
	Specialty      string   `json:"specialty,omitempty"`
	ProjectName    string   `json:"project_name,omitempty"`
	ProjectCode    string   `json:"project_code,omitempty"`
	ExpertCount    int      `json:"expert_count"`
	BackupCount    int      `json:"backup_count,omitempty"`
	DrawMethod     string   `json:"draw_method,omitempty"`
	Titles         []string `json:"titles,omitempty"`
	Regions        []string `json:"regions,omitempty"`
	Specialties    []string `json:"specialties,omitempty"`
	AvoidEnabled   *bool    `json:"avoid_enabled,omitempty"`
	AvoidUnits     string   `json:"avoid_units,omitempty"`
	AvoidPersons   string   `json:"avoid_persons,omitempty"`
	ReviewTime     string   `json:"review_time,omitempty"`
	ReviewLocation string   `json:"review_location,omitempty"`
	RuleID         string   `json:"rule_id,omitempty"`
}

// Draw represents the API draw model (partial).
type Draw struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	ProjectName string `json:"project_name"`
	ExpertCount int    `json:"expert_count"`
	BackupCount int    `json:"backup_count"`
	DrawMethod  string `json:"draw_method"`
	Status      string `json:"status"`
	ExecutedAt  string `json:"executed_at"`
	Version     int64  `json:"version"`
}

type Expert struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Title        string `json:"title"`
	Phone        string `json:"phone"`
}

// Result is one row of a draw's ledger.
type Result struct {
	ID               string  `json:"id"`
	DrawID           string  `json:"draw_id"`
	ExpertID         string  `json:"expert_id"`
	IsBackup         bool    `json:"is_backup"`
	IsReplacement    bool    `json:"is_replacement"`
	Ordinal          int     `json:"ordinal"`
	State            string  `json:"state"`
	ContactStatus    string  `json:"contact_status"`
	ReplacedResultID string  `json:"replaced_result_id"`
	Expert           *Expert `json:"expert"`
}

type Execution struct {
	ID       string `json:"id"`
	Seq      int    `json:"seq"`
	Method   string `json:"method"`
	Seed     uint64 `json:"seed"`
	PoolSize int    `json:"pool_size"`
}

// ExecutionOutcome is the response of ExecuteDraw.
type ExecutionOutcome struct {
	Draw       Draw      `json:"draw"`
	Execution  Execution `json:"execution"`
	Results    []Result  `json:"results"`
	Superseded []string  `json:"superseded_result_ids"`
}

type Replacement struct {
	Promoted   Result `json:"promoted"`
	Superseded Result `json:"superseded"`
}

// ContactUpdate is the response of UpdateContact. Warning is
// "no_backup_available" when auto-replace found no backup.
type ContactUpdate struct {
	Result   Result  `json:"result"`
	Promoted *Result `json:"promoted"`
	Warning  string  `json:"warning"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	DrawID     string `json:"draw_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Page wraps list responses with cursors.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor"`
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
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateDraw creates a pending draw.
func (c *Client) CreateDraw(ctx context.Context, req DrawRequest) (Draw, error) {
	var resp Draw
	err := c.do(ctx, http.MethodPost, "draws", req, &resp)
	return resp, err
}

func (c *Client) GetDraw(ctx context.Context, id string) (Draw, error) {
	var resp Draw
	err := c.do(ctx, http.MethodGet, drawPath(id, ""), nil, &resp)
	return resp, err
}

// ListDraws returns one page of draws, newest first.
func (c *Client) ListDraws(ctx context.Context, status string, limit int, cursor string) (Page[Draw], error) {
	q := url.Values{}
	setQuery(q, "status", status)
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp Page[Draw]
	err := c.do(ctx, http.MethodGet, withQuery("draws", q), nil, &resp)
	return resp, err
}

// ExecuteDraw runs or re-runs a draw. A nil seed lets the server pick one.
func (c *Client) ExecuteDraw(ctx context.Context, id string, seed *uint64) (ExecutionOutcome, error) {
	body := map[string]any{}
	if seed != nil {
		body["seed"] = *seed
	}
	var resp ExecutionOutcome
	err := c.do(ctx, http.MethodPost, drawPath(id, "execute"), body, &resp)
	return resp, err
}

func (c *Client) Complete(ctx context.Context, id string) (Draw, error) {
	var resp Draw
	err := c.do(ctx, http.MethodPost, drawPath(id, "complete"), nil, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, id string) (Draw, error) {
	var resp Draw
	err := c.do(ctx, http.MethodPost, drawPath(id, "cancel"), nil, &resp)
	return resp, err
}

// Results returns every page of the draw's ledger, primaries first.
func (c *Client) Results(ctx context.Context, id string, includeSuperseded bool) ([]Result, error) {
	var out []Result
	cursor := ""
	for {
		q := url.Values{}
		setQuery(q, "cursor", cursor)
		if includeSuperseded {
			q.Set("include_superseded", "true")
		}
		var page Page[Result]
		if err := c.do(ctx, http.MethodGet, withQuery(drawPath(id, "results"), q), nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// Replace promotes backupID into the slot of primaryID, or of the flagged
// primary when primaryID is empty.
func (c *Client) Replace(ctx context.Context, id, backupID, primaryID string) (Replacement, error) {
	body := map[string]any{"backup_result_id": backupID}
	if primaryID != "" {
		body["primary_result_id"] = primaryID
	}
	var resp Replacement
	err := c.do(ctx, http.MethodPost, drawPath(id, "replace"), body, &resp)
	return resp, err
}

func (c *Client) UpdateContact(ctx context.Context, id, resultID, status, note string, autoReplace bool) (ContactUpdate, error) {
	body := map[string]any{"status": status, "note": note, "auto_replace": autoReplace}
	var resp ContactUpdate
	err := c.do(ctx, http.MethodPut, drawPath(id, "results/"+url.PathEscape(resultID)+"/contact"), body, &resp)
	return resp, err
}

// Export returns the rendered active results in format.
func (c *Client) Export(ctx context.Context, id, format string) ([]byte, error) {
	q := url.Values{}
	setQuery(q, "format", format)
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, withQuery(drawPath(id, "export"), q), nil, &buf)
	return buf.Bytes(), err
}

// Events returns the most recent events of a draw.
func (c *Client) Events(ctx context.Context, id string, limit int) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp Page[Event]
	err := c.do(ctx, http.MethodGet, withQuery(drawPath(id, "events"), q), nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	switch o := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(o, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func drawPath(id, sub string) string {
	p := "draws/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
