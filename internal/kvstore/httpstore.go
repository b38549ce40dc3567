package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// KeyRoutePrefix is the HTTP route prefix serving store paths.
	KeyRoutePrefix = "/kv/"
	// StreamRoute is the websocket route streaming subscription frames.
	StreamRoute = "/kv-stream"
	// StreamPathParameter names the query parameter carrying the subscribed path.
	StreamPathParameter = "path"

	defaultHTTPTimeout = 15 * time.Second
)

var errMissingBaseURL = errors.New("kvstore: base url is required")

// StreamFrame is one websocket message of a subscription.
type StreamFrame struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// HTTPStoreConfig configures the remote store client.
type HTTPStoreConfig struct {
	BaseURL string
	Token   func() string
	Timeout time.Duration
	Logger  *zap.Logger
	Dialer  *websocket.Dialer
}

// HTTPStore is a Store served by a remote `classnotes serve` instance.
type HTTPStore struct {
	client  *resty.Client
	baseURL *url.URL
	token   func() string
	logger  *zap.Logger
	dialer  *websocket.Dialer
}

// NewHTTPStore constructs the remote client.
func NewHTTPStore(cfg HTTPStoreConfig) (*HTTPStore, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("kvstore: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	client := resty.New().
		SetBaseURL(trimmed).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &HTTPStore{
		client:  client,
		baseURL: parsed,
		token:   token,
		logger:  logger,
		dialer:  dialer,
	}, nil
}

func (s *HTTPStore) Get(ctx context.Context, path Path) (json.RawMessage, error) {
	response, err := s.request(ctx).Get(KeyRoutePrefix + path.String())
	if err := classifyResponse(OperationGet, path, response, err); err != nil {
		return nil, err
	}
	body := response.Body()
	if isNullRaw(body) {
		return nil, nil
	}
	return json.RawMessage(body), nil
}

func (s *HTTPStore) Set(ctx context.Context, path Path, value any) error {
	body, err := encodeBody(value)
	if err != nil {
		return err
	}
	response, err := s.request(ctx).SetBody(body).Put(KeyRoutePrefix + path.String())
	return classifyResponse(OperationSet, path, response, err)
}

func (s *HTTPStore) Update(ctx context.Context, path Path, fields map[string]any) error {
	body, err := encodeBody(fields)
	if err != nil {
		return err
	}
	response, err := s.request(ctx).SetBody(body).Patch(KeyRoutePrefix + path.String())
	return classifyResponse(OperationUpdate, path, response, err)
}

func (s *HTTPStore) Delete(ctx context.Context, path Path) error {
	response, err := s.request(ctx).Delete(KeyRoutePrefix + path.String())
	return classifyResponse(OperationDelete, path, response, err)
}

// Subscribe opens a websocket stream. The first frame carries the current value and is
// delivered before Subscribe returns.
func (s *HTTPStore) Subscribe(ctx context.Context, path Path, callback ChangeFunc) (func(), error) {
	if callback == nil {
		return func() {}, nil
	}
	header := http.Header{}
	if token := s.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, response, err := s.dialer.DialContext(ctx, s.streamURL(path), header)
	if err != nil {
		if response != nil {
			return nil, statusError(OperationSubscribe, path, response.StatusCode, err.Error())
		}
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, path, err)
	}

	first, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, path, err)
	}
	callback(first.Value)

	var once sync.Once
	done := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			close(done)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()

	go func() {
		for {
			frame, readErr := readFrame(conn)
			if readErr != nil {
				select {
				case <-done:
				default:
					s.logger.Warn("kvstore stream closed", zap.String("path", path.String()), zap.Error(readErr))
				}
				return
			}
			callback(frame.Value)
		}
	}()

	return cleanup, nil
}

func (s *HTTPStore) request(ctx context.Context) *resty.Request {
	request := s.client.R().SetContext(ctx)
	if token := s.token(); token != "" {
		request.SetAuthToken(token)
	}
	return request
}

func (s *HTTPStore) streamURL(path Path) string {
	streamURL := *s.baseURL
	switch streamURL.Scheme {
	case "https":
		streamURL.Scheme = "wss"
	default:
		streamURL.Scheme = "ws"
	}
	streamURL.Path = strings.TrimRight(streamURL.Path, "/") + StreamRoute
	query := url.Values{}
	query.Set(StreamPathParameter, path.String())
	streamURL.RawQuery = query.Encode()
	return streamURL.String()
}

func readFrame(conn *websocket.Conn) (StreamFrame, error) {
	var frame StreamFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return StreamFrame{}, err
	}
	return frame, nil
}

func encodeBody(value any) ([]byte, error) {
	normalized, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return encoded, nil
}

func classifyResponse(operation Operation, path Path, response *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, operation, path, err)
	}
	if response.IsSuccess() {
		return nil
	}
	return statusError(operation, path, response.StatusCode(), response.String())
}

func statusError(operation Operation, path Path, status int, detail string) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, operation, path)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrForbidden, operation, path)
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s %s: %s", ErrInvalidValue, operation, path, detail)
	default:
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrUnavailable, operation, path, status, detail)
	}
}
