package authkit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
)

// Request describes one call through the executor. Body and Out are
// validated when they implement ozzo's Validatable.
type Request struct {
	Method string
	Path   string
	Body   any
	Out    any

	// NoAuth skips the bearer header, NoRetry disables the single
	// refresh-and-retry on 401, Silent suppresses the success notification.
	NoAuth  bool
	NoRetry bool
	Silent  bool

	retried bool
}

// Client is the request executor: it validates payloads, attaches auth,
// enforces the envelope contract and performs the single refresh-and-retry
// on 401. It is the only place that decides retry behavior.
type Client struct {
	baseURL   string
	http      *http.Client
	store     *TokenStore
	refresher *RefreshCoordinator
	notifier  Notifier
	logger    Logger
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func WithNotifier(notifier Notifier) ClientOption {
	return func(c *Client) {
		if notifier != nil {
			c.notifier = notifier
		}
	}
}

func WithClientLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, store *TokenStore, refresher *RefreshCoordinator, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		store:     store,
		refresher: refresher,
		notifier:  noopNotifier{},
		logger:    defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.http == nil {
		// Cookies ride alongside bearer auth; the backend sets both.
		jar, _ := cookiejar.New(nil)
		c.http = &http.Client{Jar: jar}
	}

	return c
}

// Do executes one request. Invalid bodies fail before any network I/O with
// zero side effects.
func (c *Client) Do(ctx context.Context, req *Request) (*Envelope, error) {
	if v, ok := req.Body.(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, &ValidationError{Scope: "request", Err: err}
		}
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &ValidationError{Scope: "request", Err: err}
		}
		body = bytes.NewReader(raw)
	}

	url := c.baseURL + req.Path
	requestID := uuid.NewString()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, &ValidationError{Scope: "request", Err: err}
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if !req.NoAuth {
		if pair := c.store.Get(); pair != nil {
			httpReq.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		}
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		// Cancellations pass through undecorated; a canceled attempt never
		// counts toward the retry budget.
		if IsCancellation(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		return nil, &NetworkError{Method: req.Method, URL: url, RequestID: requestID, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		if IsCancellation(err) {
			return nil, err
		}
		return nil, &NetworkError{Method: req.Method, URL: url, RequestID: requestID, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		if res.StatusCode == http.StatusUnauthorized && !req.NoAuth && !req.NoRetry && !req.retried {
			if c.refresher != nil && c.refresher.EnsureRefreshed(ctx) {
				req.retried = true
				c.logger.Debug("retrying after refresh", "path", req.Path)
				return c.Do(ctx, req)
			}
		}
		return nil, c.apiError(res.StatusCode, requestID, raw)
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	if req.Out != nil {
		if err := env.DecodeData(req.Out); err != nil {
			return nil, err
		}
	}

	if req.Method != http.MethodGet && !req.Silent {
		c.notifier.Success(successMessage(req.Method, env.Message))
	}

	return env, nil
}

// Get is shorthand for an authenticated GET with a typed payload.
func (c *Client) Get(ctx context.Context, path string, out any) (*Envelope, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Out: out})
}

// Post is shorthand for an authenticated POST with a typed payload.
func (c *Client) Post(ctx context.Context, path string, in, out any) (*Envelope, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: in, Out: out})
}

func (c *Client) apiError(status int, requestID string, raw []byte) *APIError {
	apiErr := &APIError{Status: status, RequestID: requestID}

	env := &Envelope{}
	if err := json.Unmarshal(raw, env); err == nil {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
		if len(env.Error) > 0 {
			details := map[string]any{}
			if err := json.Unmarshal(env.Error, &details); err == nil {
				apiErr.Details = details
			}
		}
	}

	return apiErr
}

func successMessage(method, serverMessage string) string {
	if serverMessage != "" {
		return serverMessage
	}
	switch method {
	case http.MethodDelete:
		return "Deleted."
	case http.MethodPut, http.MethodPatch:
		return "Changes saved."
	default:
		return "Done."
	}
}
