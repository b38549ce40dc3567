package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/go-resty/resty/v2"
)

// LoginRoute is the server endpoint exchanging an access key for a session token.
const LoginRoute = "/auth/login"

const defaultClientTimeout = 15 * time.Second

// Error codes shared by the login endpoint and its client.
const (
	CodeMissingKey       = "auth.login.missing_key"
	CodeMissingSelection = "auth.login.missing_selection"
	CodeInvalidKey       = "auth.login.invalid_key"
	CodeRoleMismatch     = "auth.login.role_mismatch"
	CodeUnavailable      = "auth.login.store_unavailable"
)

var loginErrors = []struct {
	code string
	err  error
}{
	{CodeMissingKey, ErrMissingKey},
	{CodeMissingSelection, ErrMissingSelection},
	{CodeInvalidKey, ErrInvalidKey},
	{CodeRoleMismatch, ErrRoleMismatch},
	{CodeUnavailable, kvstore.ErrUnavailable},
}

// LoginErrorCode maps a Login error onto its wire code.
func LoginErrorCode(err error) string {
	for _, candidate := range loginErrors {
		if errors.Is(err, candidate.err) {
			return candidate.code
		}
	}
	return CodeUnavailable
}

func loginErrorFromCode(code string) error {
	for _, candidate := range loginErrors {
		if candidate.code == code {
			return candidate.err
		}
	}
	return fmt.Errorf("%w: login failed with %q", kvstore.ErrUnavailable, code)
}

// LoginResponse is the body returned by the login endpoint.
type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   int64   `json:"expires_in"`
	TokenType   string  `json:"token_type"`
	Session     Session `json:"session"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client performs key logins against a remote `classnotes serve` instance.
type Client struct {
	http *resty.Client
}

// NewClient constructs a login client for baseURL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("auth: base url is required")
	}
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{http: resty.New().SetBaseURL(trimmed).SetTimeout(timeout)}, nil
}

// Login validates the request locally, then exchanges it for a session token.
func (c *Client) Login(ctx context.Context, request LoginRequest) (LoginResponse, error) {
	request.Key = strings.TrimSpace(request.Key)
	request.Class = strings.TrimSpace(request.Class)
	if err := request.Validate(); err != nil {
		return LoginResponse{}, err
	}

	var body LoginResponse
	var failure errorBody
	response, err := c.http.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&body).
		SetError(&failure).
		Post(LoginRoute)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("%w: %v", kvstore.ErrUnavailable, err)
	}
	if response.StatusCode() != http.StatusOK {
		return LoginResponse{}, loginErrorFromCode(failure.Error)
	}
	body.Session.Key = request.Key
	return body, nil
}
