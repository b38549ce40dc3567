package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testSigningSecret = "server-test-secret"

type stubTokenManager struct {
	session     auth.Session
	validateErr error
}

func (s stubTokenManager) IssueSessionToken(auth.Session) (string, int64, error) {
	return "stub-token", 60, nil
}

func (s stubTokenManager) ValidateToken(string) (auth.Session, error) {
	if s.validateErr != nil {
		return auth.Session{}, s.validateErr
	}
	return s.session, nil
}

func newAuthorizingHandler(t *testing.T, tokens SessionTokenManager, logger *zap.Logger) *httpHandler {
	t.Helper()
	sessions, err := auth.NewSessionValidator(tokens)
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	return &httpHandler{tokens: tokens, sessions: sessions, logger: logger}
}

type testServer struct {
	store   *kvstore.MemoryStore
	tokens  *auth.TokenIssuer
	handler http.Handler
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := kvstore.NewMemoryStore()
	err := store.Seed(map[string]any{
		"users": map[string]any{
			"administration": map[string]any{
				"root-key": map[string]any{"type": "admin", "name": "Директор"},
			},
			"10-M": map[string]any{
				"elder-key":   map[string]any{"type": "elder", "name": "Староста"},
				"student-key": map[string]any{"type": "student"},
			},
		},
		"classes": map[string]any{
			"10-M": map[string]any{"homework": "<p>Задачи 1-5</p>", "lastUpdate": "01.09.2025, 08:00:00"},
			"11-A": map[string]any{"homework": "<p>Сочинение</p>"},
		},
	})
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorConfig{Store: store})
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "classnotes-test",
		Audience:      "classnotes-test",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Authenticator: authenticator,
		TokenManager:  tokens,
		Store:         store,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return testServer{store: store, tokens: tokens, handler: handler}
}

func (s testServer) do(t *testing.T, method, target, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == nil {
		request = httptest.NewRequest(method, target, http.NoBody)
	} else {
		request = httptest.NewRequest(method, target, bytes.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s testServer) login(t *testing.T, class string, role classroom.Role, key string) auth.LoginResponse {
	t.Helper()
	body, err := json.Marshal(auth.LoginRequest{Class: class, Role: role, Key: key})
	if err != nil {
		t.Fatalf("failed to encode login: %v", err)
	}
	recorder := s.do(t, http.MethodPost, auth.LoginRoute, "", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var response auth.LoginResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return response
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", recorder.Body.String(), err)
	}
	return body.Error
}

func TestLoginIssuesSessionToken(t *testing.T) {
	server := newTestServer(t)
	response := server.login(t, "10-M", classroom.RoleElder, "elder-key")

	if response.TokenType != "Bearer" || response.ExpiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("unexpected token envelope %+v", response)
	}
	if response.Session.Role != classroom.RoleElder || response.Session.DisplayName != "Староста" {
		t.Fatalf("unexpected session %+v", response.Session)
	}
	if bytes.Contains([]byte(response.AccessToken), []byte("elder-key")) {
		t.Fatalf("access token must not embed the key")
	}

	session, err := server.tokens.ValidateToken(response.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if session.Class != "10-M" || session.Key != "" {
		t.Fatalf("unexpected validated session %+v", session)
	}
}

func TestLoginErrorStatuses(t *testing.T) {
	server := newTestServer(t)
	testCases := []struct {
		name    string
		request auth.LoginRequest
		status  int
		code    string
	}{
		{"missing key", auth.LoginRequest{Class: "10-M", Role: classroom.RoleStudent}, http.StatusBadRequest, auth.CodeMissingKey},
		{"missing selection", auth.LoginRequest{Key: "student-key"}, http.StatusBadRequest, auth.CodeMissingSelection},
		{"unknown key", auth.LoginRequest{Class: "10-M", Role: classroom.RoleStudent, Key: "nope"}, http.StatusUnauthorized, auth.CodeInvalidKey},
		{"role mismatch", auth.LoginRequest{Class: "10-M", Role: classroom.RoleElder, Key: "student-key"}, http.StatusForbidden, auth.CodeRoleMismatch},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			body, err := json.Marshal(testCase.request)
			if err != nil {
				t.Fatalf("failed to encode request: %v", err)
			}
			recorder := server.do(t, http.MethodPost, auth.LoginRoute, "", body)
			if recorder.Code != testCase.status {
				t.Fatalf("expected status %d, got %d", testCase.status, recorder.Code)
			}
			if code := errorCode(t, recorder); code != testCase.code {
				t.Fatalf("expected code %q, got %q", testCase.code, code)
			}
		})
	}
}

func TestLoginReportsUnavailableStore(t *testing.T) {
	server := newTestServer(t)
	server.store.SetFailure(kvstore.FailAll(errors.New("disk gone")))

	body, _ := json.Marshal(auth.LoginRequest{Class: "10-M", Role: classroom.RoleStudent, Key: "student-key"})
	recorder := server.do(t, http.MethodPost, auth.LoginRoute, "", body)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, recorder.Code)
	}
	if code := errorCode(t, recorder); code != auth.CodeUnavailable {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestAuthorizeRequestRejectsMissingToken(t *testing.T) {
	server := newTestServer(t)
	recorder := server.do(t, http.MethodGet, "/kv/classes/10-M", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
	if code := errorCode(t, recorder); code != codeMissingToken {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/kv/classes/10-M", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := newAuthorizingHandler(t, stubTokenManager{validateErr: errors.Join(auth.ErrInvalidToken, jwt.ErrTokenExpired)}, zap.New(core))

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), jwt.ErrTokenExpired) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/kv/classes/10-M", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := newAuthorizingHandler(t, stubTokenManager{validateErr: errors.New("signature mismatch")}, zap.New(core))

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
	if !ctx.IsAborted() {
		t.Fatalf("expected the request to be aborted")
	}
}

func TestAuthorizeRequestAcceptsQueryToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/kv-stream?access_token=abc", http.NoBody)

	handler := newAuthorizingHandler(t, stubTokenManager{
		session: auth.Session{Role: classroom.RoleStudent, UserType: auth.UserTypeClass, Class: "10-M"},
	}, zap.NewNop())
	handler.authorizeRequest(ctx)

	session := sessionFrom(ctx)
	if session == nil || session.Class != "10-M" {
		t.Fatalf("expected the session to be stored on the context, got %+v", session)
	}
}
