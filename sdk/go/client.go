package giglinesdk

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

// Client is a minimal Gigline HTTP API client.
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
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Mission represents the API mission model.
type Mission struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	PriceCents  int64    `json:"price_cents"`
	Location    Location `json:"location"`
	Status      string   `json:"status"`
	CreatedBy   string   `json:"created_by"`
	AssignedTo  *string  `json:"assigned_to,omitempty"`
	ReservedBy  *string  `json:"reserved_by,omitempty"`
	PaidAt      *string  `json:"paid_at,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// NewMission is the payload for posting a mission.
type NewMission struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	PriceCents  int64    `json:"price_cents"`
	Location    Location `json:"location"`
}

type Contract struct {
	ID               string `json:"id"`
	MissionID        string `json:"mission_id"`
	Nonce            string `json:"signature_nonce"`
	SignedByWorker   bool   `json:"signed_by_worker"`
	SignedByEmployer bool   `json:"signed_by_employer"`
	AmountCents      int64  `json:"amount_cents"`
	Status           string `json:"status"`
}

// Payment carries Cached when the server replayed an existing idempotency key.
type Payment struct {
	ID             string  `json:"id"`
	MissionID      string  `json:"mission_id"`
	IdempotencyKey string  `json:"idempotency_key"`
	AmountCents    int64   `json:"amount_cents"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
	ProviderRef    *string `json:"provider_ref,omitempty"`
	Attempts       int     `json:"attempts"`
	Cached         bool    `json:"cached"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// WhoAmI describes the authenticated caller.
type WhoAmI struct {
	ActorID         string `json:"actor_id"`
	Role            string `json:"role"`
	Source          string `json:"source"`
	ConsentVersion  string `json:"consent_version,omitempty"`
	ConsentAccepted bool   `json:"consent_accepted"`
}

// APIError wraps non-2xx responses. Code is the stable error code from the envelope,
// e.g. ALREADY_CLAIMED or INVALID_NONCE.
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

// PaginatedMissions wraps list responses with cursors.
type PaginatedMissions struct {
	Items      []Mission `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// MissionQuery filters ListMissions.
type MissionQuery struct {
	Status     string
	CreatedBy  string
	AssignedTo string
	Category   string
	Limit      int
	Cursor     string
}

func (c *Client) CreateMission(ctx context.Context, m NewMission) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, "missions", m, nil, &resp)
	return resp, err
}

func (c *Client) GetMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, "missions/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// ListMissions returns one page of missions, newest first.
func (c *Client) ListMissions(ctx context.Context, q MissionQuery) (PaginatedMissions, error) {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("status", q.Status)
	set("created_by", q.CreatedBy)
	set("assigned_to", q.AssignedTo)
	set("category", q.Category)
	set("cursor", q.Cursor)
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	endpoint := "missions"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp PaginatedMissions
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

func (c *Client) ReserveMission(ctx context.Context, id string) (Mission, error) {
	return c.missionAction(ctx, id, "reserve")
}

// ClaimMission assigns the mission to the caller. Losing a race yields an APIError with
// code ALREADY_CLAIMED.
func (c *Client) ClaimMission(ctx context.Context, id string) (Mission, error) {
	return c.missionAction(ctx, id, "claim")
}

func (c *Client) StartMission(ctx context.Context, id string) (Mission, error) {
	return c.missionAction(ctx, id, "start")
}

func (c *Client) CompleteMission(ctx context.Context, id string) (Mission, error) {
	return c.missionAction(ctx, id, "complete")
}

func (c *Client) CancelMission(ctx context.Context, id string) (Mission, error) {
	return c.missionAction(ctx, id, "cancel")
}

func (c *Client) missionAction(ctx context.Context, id, action string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("missions/%s/%s", url.PathEscape(id), action), nil, nil, &resp)
	return resp, err
}

// Contract returns the mission contract, including the nonce the next signer must present.
func (c *Client) Contract(ctx context.Context, missionID string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("missions/%s/contract", url.PathEscape(missionID)), nil, nil, &resp)
	return resp, err
}

func (c *Client) SignContract(ctx context.Context, missionID, nonce string) (Contract, error) {
	return c.contractAction(ctx, missionID, "sign", nonce)
}

func (c *Client) RejectContract(ctx context.Context, missionID, nonce string) (Contract, error) {
	return c.contractAction(ctx, missionID, "reject", nonce)
}

func (c *Client) contractAction(ctx context.Context, missionID, action, nonce string) (Contract, error) {
	var resp Contract
	body := map[string]string{"signature_nonce": nonce}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("missions/%s/contract/%s", url.PathEscape(missionID), action), body, nil, &resp)
	return resp, err
}

// CreatePayment creates or replays the payment intent identified by key. amountCents 0
// charges the mission price.
func (c *Client) CreatePayment(ctx context.Context, missionID string, amountCents int64, key string) (Payment, error) {
	var resp Payment
	body := map[string]any{}
	if amountCents > 0 {
		body["amount_cents"] = amountCents
	}
	headers := map[string]string{"Idempotency-Key": key}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("missions/%s/payments", url.PathEscape(missionID)), body, headers, &resp)
	return resp, err
}

func (c *Client) GetPayment(ctx context.Context, id string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodGet, "payments/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) CapturePayment(ctx context.Context, id string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("payments/%s/capture", url.PathEscape(id)), nil, nil, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, nil, &resp)
	return resp, err
}

// AcceptTerms records consent; an empty version accepts the server's current terms.
func (c *Client) AcceptTerms(ctx context.Context, version string) error {
	body := map[string]string{}
	if version != "" {
		body["version"] = version
	}
	return c.do(ctx, http.MethodPost, "me/consent", body, nil, nil)
}

// EventsPage returns a page of the event log (admin only).
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		v.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
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
	for k, v := range headers {
		req.Header.Set(k, v)
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
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
