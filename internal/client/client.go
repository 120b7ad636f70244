// Package client talks to the lexwrite HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lexwrite/api/internal/entitlement"
)

const maxErrorBodyBytes = 4096

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response. Code is empty for routes that answer
// with a bare {error} body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// PremiumRequired reports whether err is the entitlement gate refusing a call.
func PremiumRequired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusPaymentRequired
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
	User         User   `json:"user"`
}

type Profile struct {
	ID                   string     `json:"id"`
	Email                string     `json:"email"`
	FullName             string     `json:"full_name"`
	AvatarURL            string     `json:"avatar_url"`
	SubscriptionStatus   string     `json:"subscription_status"`
	SubscriptionInterval string     `json:"subscription_interval"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	TrialEndsAt          *time.Time `json:"trial_ends_at"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	SubscriptionID       string     `json:"subscription_id"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Snapshot is the view of the profile the entitlement gate reads.
func (p Profile) Snapshot() *entitlement.Snapshot {
	return &entitlement.Snapshot{
		Status:           entitlement.NormalizeStatus(p.SubscriptionStatus),
		CurrentPeriodEnd: p.CurrentPeriodEnd,
		TrialEndsAt:      p.TrialEndsAt,
	}
}

// AppState is the body of GET /api/session.
type AppState struct {
	Authenticated bool     `json:"authenticated"`
	User          *User    `json:"user"`
	Profile       *Profile `json:"profile"`
	HasPremium    bool     `json:"hasPremium"`
	Features      []string `json:"features"`
}

type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AssistRequest struct {
	Action          string `json:"action"`
	Text            string `json:"text,omitempty"`
	CustomPrompt    string `json:"customPrompt,omitempty"`
	DocumentContext string `json:"documentContext,omitempty"`
	DocumentTitle   string `json:"documentTitle,omitempty"`
}

type CitationRequest struct {
	Text       string `json:"text"`
	Format     string `json:"format"`
	SampleSize string `json:"sampleSize,omitempty"`
	DateRange  string `json:"dateRange,omitempty"`
	Location   string `json:"location,omitempty"`
	Parameters string `json:"parameters,omitempty"`
}

type Citation struct {
	StudyFindings     string `json:"studyFindings"`
	Citation          string `json:"citation"`
	BriefDescription  string `json:"briefDescription"`
	Location          string `json:"location"`
	Date              string `json:"date"`
	Participants      string `json:"participants"`
	Accessibility     string `json:"accessibility"`
	Link              string `json:"link"`
	FormattedCitation string `json:"formattedCitation"`
}

type Plan struct {
	PriceID  string `json:"priceId"`
	Interval string `json:"interval"`
}

// Client is safe for concurrent use once the token is set.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 150 * time.Second},
	}
}

// SetToken sets the bearer token sent with every request. An empty token
// makes the client anonymous.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Token() string { return c.token }

func (c *Client) SignUp(ctx context.Context, email, password, fullName string) (Session, *Profile, error) {
	var out struct {
		Session
		Profile *Profile `json:"profile"`
	}
	body := map[string]string{"email": email, "password": password, "fullName": fullName}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, &out); err != nil {
		return Session{}, nil, err
	}
	return out.Session, out.Profile, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/auth/signin", map[string]string{"email": email, "password": password}, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/session/refresh", map[string]string{"refreshToken": refreshToken}, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/api/session/logout", map[string]string{"refreshToken": refreshToken}, nil)
}

func (c *Client) Session(ctx context.Context) (AppState, error) {
	var out AppState
	err := c.do(ctx, http.MethodGet, "/api/session", nil, &out)
	return out, err
}

// Profile returns ErrNotFound while the profile row does not exist yet.
func (c *Client) Profile(ctx context.Context) (Profile, bool, error) {
	var out struct {
		Profile    Profile `json:"profile"`
		HasPremium bool    `json:"hasPremium"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/profile", nil, &out); err != nil {
		return Profile{}, false, err
	}
	return out.Profile, out.HasPremium, nil
}

func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var out struct {
		Documents []Document `json:"documents"`
	}
	err := c.do(ctx, http.MethodGet, "/api/documents", nil, &out)
	return out.Documents, err
}

func (c *Client) CreateDocument(ctx context.Context, title, content string) (Document, error) {
	var out struct {
		Document Document `json:"document"`
	}
	err := c.do(ctx, http.MethodPost, "/api/documents", map[string]string{"title": title, "content": content}, &out)
	return out.Document, err
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/documents/"+url.PathEscape(id)+"?confirm=true", nil, nil)
}

func (c *Client) Assist(ctx context.Context, req AssistRequest) (string, error) {
	var out struct {
		Result string `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "/api/ai/assist", req, &out)
	return out.Result, err
}

func (c *Client) Cite(ctx context.Context, req CitationRequest) (Citation, error) {
	var out Citation
	err := c.do(ctx, http.MethodPost, "/api/ai/citation", req, &out)
	return out, err
}

func (c *Client) Plans(ctx context.Context) ([]Plan, error) {
	var out struct {
		Plans []Plan `json:"plans"`
	}
	err := c.do(ctx, http.MethodGet, "/api/billing/plans", nil, &out)
	return out.Plans, err
}

// Checkout returns the hosted checkout URL for priceID.
func (c *Client) Checkout(ctx context.Context, priceID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodPost, "/api/billing/checkout", map[string]string{"priceId": priceID}, &out)
	return out.URL, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
