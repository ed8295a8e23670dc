package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat: http %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Pagination *Pagination     `json:"pagination"`
}

// Client is the REST adapter. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *resty.Client

	mu    sync.RWMutex
	token string
}

type Option func(*resty.Client)

func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

func WithRetries(count int) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(count).
			SetRetryWaitTime(200 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}
}

// New builds a client for the server at baseURL (for example http://localhost:8080).
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	rc := resty.New().
		SetBaseURL(baseURL+"/api").
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{baseURL: baseURL, http: rc}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// do executes req and decodes the envelope data into out when out is not nil.
func do(req *resty.Request, method, path string, out any) (*Pagination, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if body := resp.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("chat: decode %s %s: %w", method, path, err)
		}
	}
	if resp.IsError() || (len(resp.Body()) > 0 && !env.Success) {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return nil, &APIError{Status: resp.StatusCode(), Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("chat: decode %s %s data: %w", method, path, err)
		}
	}
	return env.Pagination, nil
}

func (c *Client) Register(ctx context.Context, email, name, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"email": email, "name": name, "password": password}
	if _, err := do(c.request(ctx).SetBody(body), http.MethodPost, "/auth/register", &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Login authenticates and keeps the token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"email": email, "password": password}
	if _, err := do(c.request(ctx).SetBody(body), http.MethodPost, "/auth/login", &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if _, err := do(c.request(ctx), http.MethodPost, "/auth/logout", nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if _, err := do(c.request(ctx), http.MethodGet, "/auth/me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if _, err := do(c.request(ctx), http.MethodGet, "/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Conversation(ctx context.Context, id string) (*Conversation, error) {
	var out Conversation
	if _, err := do(c.request(ctx), http.MethodGet, "/conversations/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartParams names the anchor by exactly one of ListingID and ServiceID.
// An empty OtherUserID contacts the anchor owner.
type StartParams struct {
	ListingID   string `json:"listingId,omitempty"`
	ServiceID   string `json:"serviceId,omitempty"`
	OtherUserID string `json:"otherUserId,omitempty"`
}

func (c *Client) StartConversation(ctx context.Context, params StartParams) (*Conversation, error) {
	var out Conversation
	if _, err := do(c.request(ctx).SetBody(params), http.MethodPost, "/conversations", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches one history page, oldest first. The server marks the page read.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) ([]Message, Pagination, error) {
	req := c.request(ctx)
	if page > 0 {
		req.SetQueryParam("page", strconv.Itoa(page))
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	var out []Message
	pg, err := do(req, http.MethodGet, "/conversations/"+conversationID+"/messages", &out)
	if err != nil {
		return nil, Pagination{}, err
	}
	if pg == nil {
		pg = &Pagination{}
	}
	return out, *pg, nil
}

// Send posts a message. A non-empty idempotencyKey makes retries safe.
func (c *Client) Send(ctx context.Context, conversationID, content, idempotencyKey string) (*Message, error) {
	req := c.request(ctx).SetBody(map[string]string{"content": content})
	if idempotencyKey != "" {
		req.SetHeader("Idempotency-Key", idempotencyKey)
	}
	var out Message
	if _, err := do(req, http.MethodPost, "/conversations/"+conversationID+"/messages", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) (*ReadReceipt, error) {
	var out ReadReceipt
	if _, err := do(c.request(ctx), http.MethodPost, "/conversations/"+conversationID+"/read", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnreadCount returns the global count, or one conversation's when conversationID is set.
func (c *Client) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	req := c.request(ctx)
	if conversationID != "" {
		req.SetQueryParam("conversationId", conversationID)
	}
	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	if _, err := do(req, http.MethodGet, "/conversations/unread/count", &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (c *Client) Presence(ctx context.Context, userID string) (*Presence, error) {
	var out Presence
	if _, err := do(c.request(ctx), http.MethodGet, "/users/"+userID+"/presence", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
