package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	sessionContextKey = "classnotes_session"
	// MaxValueBytes bounds a single PUT or PATCH body; a 5 MiB image grows by a third as a data URL.
	MaxValueBytes = 8 << 20

	codeMissingToken = "auth.session.missing_token"
	codeInvalidToken = "auth.session.invalid_token"
	codeInvalidPath  = "kv.invalid_path"
	codeInvalidValue = "kv.invalid_value"
	codeForbidden    = "kv.forbidden"
	codeStoreFailed  = "kv.store_failed"
)

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingStore         = errors.New("store dependency required")
)

// Authenticator exchanges an access key for a session.
type Authenticator interface {
	Login(ctx context.Context, request auth.LoginRequest) (auth.Session, error)
}

// SessionTokenManager issues and validates session tokens.
type SessionTokenManager interface {
	IssueSessionToken(session auth.Session) (string, int64, error)
	ValidateToken(token string) (auth.Session, error)
}

// Dependencies wires the hosted store endpoints.
type Dependencies struct {
	Authenticator  Authenticator
	TokenManager   SessionTokenManager
	Store          kvstore.Store
	Logger         *zap.Logger
	AllowedOrigins []string
	// StreamBuffer is the per-connection frame buffer; frames beyond it are dropped.
	StreamBuffer int
}

// NewHTTPHandler builds the gin router serving login, the store routes and the change stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	sessions, err := auth.NewSessionValidator(deps.TokenManager)
	if err != nil {
		return nil, err
	}
	handler := &httpHandler{
		authenticator: deps.Authenticator,
		tokens:        deps.TokenManager,
		sessions:      sessions,
		store:         deps.Store,
		logger:        logger,
		streamBuffer:  deps.StreamBuffer,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST(auth.LoginRoute, handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET(kvstore.KeyRoutePrefix+"*path", handler.handleGet)
	protected.PUT(kvstore.KeyRoutePrefix+"*path", handler.handleSet)
	protected.PATCH(kvstore.KeyRoutePrefix+"*path", handler.handleUpdate)
	protected.DELETE(kvstore.KeyRoutePrefix+"*path", handler.handleDelete)
	protected.GET(kvstore.StreamRoute, handler.handleStream)

	return router, nil
}

// corsMiddleware echoes allowed origins; with none configured every origin is accepted.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(started)),
		)
	}
}

type httpHandler struct {
	authenticator Authenticator
	tokens        SessionTokenManager
	sessions      *auth.SessionValidator
	store         kvstore.Store
	logger        *zap.Logger
	streamBuffer  int
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request auth.LoginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": auth.CodeMissingKey})
		return
	}

	session, err := h.authenticator.Login(c.Request.Context(), request)
	if err != nil {
		code := auth.LoginErrorCode(err)
		if code == auth.CodeUnavailable {
			h.logger.Error("login failed", zap.Error(err))
		} else {
			h.logger.Info("login rejected", zap.String("code", code))
		}
		c.JSON(loginStatus(code), gin.H{"error": code})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(session)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": auth.CodeUnavailable})
		return
	}

	c.JSON(http.StatusOK, auth.LoginResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Session:     session,
	})
}

func loginStatus(code string) int {
	switch code {
	case auth.CodeMissingKey, auth.CodeMissingSelection:
		return http.StatusBadRequest
	case auth.CodeInvalidKey:
		return http.StatusUnauthorized
	case auth.CodeRoleMismatch:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	session, err := h.sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": codeMissingToken})
		return
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": codeInvalidToken})
		return
	}
	c.Set(sessionContextKey, session)
	c.Next()
}

func sessionFrom(c *gin.Context) *auth.Session {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	session, ok := value.(auth.Session)
	if !ok {
		return nil
	}
	return &session
}

// resolvePath parses the wildcard path and applies the access rule; it writes the error response itself.
func (h *httpHandler) resolvePath(c *gin.Context, raw string, allowed func(*auth.Session, kvstore.Path) bool) (kvstore.Path, bool) {
	path, err := kvstore.ParsePath(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidPath})
		return "", false
	}
	session := sessionFrom(c)
	if !allowed(session, path) {
		h.logger.Info("store access denied",
			zap.String("method", c.Request.Method),
			zap.String("path", path.String()),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": codeForbidden})
		return "", false
	}
	return path, true
}

func (h *httpHandler) handleGet(c *gin.Context) {
	path, ok := h.resolvePath(c, c.Param("path"), auth.CanRead)
	if !ok {
		return
	}
	value, err := h.store.Get(c.Request.Context(), path)
	if err != nil {
		h.respondStoreError(c, path, err)
		return
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	c.Data(http.StatusOK, "application/json", value)
}

func (h *httpHandler) handleSet(c *gin.Context) {
	path, ok := h.resolvePath(c, c.Param("path"), auth.CanWrite)
	if !ok {
		return
	}
	body, ok := readValue(c)
	if !ok {
		return
	}
	if err := h.store.Set(c.Request.Context(), path, json.RawMessage(body)); err != nil {
		h.respondStoreError(c, path, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	path, ok := h.resolvePath(c, c.Param("path"), auth.CanWrite)
	if !ok {
		return
	}
	body, ok := readValue(c)
	if !ok {
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidValue})
		return
	}
	fields := make(map[string]any, len(raw))
	for key, value := range raw {
		fields[key] = value
	}
	if err := h.store.Update(c.Request.Context(), path, fields); err != nil {
		h.respondStoreError(c, path, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	path, ok := h.resolvePath(c, c.Param("path"), auth.CanWrite)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), path); err != nil {
		h.respondStoreError(c, path, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func readValue(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxValueBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": codeInvalidValue})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidValue})
		return nil, false
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidValue})
		return nil, false
	}
	return body, true
}

func (h *httpHandler) respondStoreError(c *gin.Context, path kvstore.Path, err error) {
	switch {
	case errors.Is(err, kvstore.ErrInvalidPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidPath})
	case errors.Is(err, kvstore.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidValue})
	case errors.Is(err, kvstore.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": codeForbidden})
	default:
		h.logger.Error("store operation failed",
			zap.String("method", c.Request.Method),
			zap.String("path", path.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": codeStoreFailed})
	}
}
