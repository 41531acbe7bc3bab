package api

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/security"
)

const (
	permChatRead  = "chat:read"
	permChatWrite = "chat:write"
	permAdmin     = "admin:all"
)

// requestLogger returns middleware that logs one line per request.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			r := c.Request()
			slog.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// corsMiddleware applies the configured cross-origin policy and answers
// preflight requests before they reach authentication.
func corsMiddleware(cfg config.CORSConfig) echo.MiddlewareFunc {
	allowAll := slices.Contains(cfg.Origins, "*")
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			h := c.Response().Header()

			switch {
			case origin == "":
			case allowAll && !cfg.AllowCredentials:
				h.Set("Access-Control-Allow-Origin", "*")
			case allowAll || slices.Contains(cfg.Origins, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if c.Request().Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				return c.String(http.StatusNoContent, "")
			}
			return next(c)
		}
	}
}

// requiredPermission maps a request to the permission guarding it. The
// second return is false for public routes.
func requiredPermission(method, path string) (string, bool) {
	if method == http.MethodOptions {
		return "", false
	}
	if path == "/health" || strings.HasPrefix(path, "/health/") {
		return "", false
	}
	if strings.HasPrefix(path, "/admin/") {
		return permAdmin, true
	}
	if path == "/chat" || strings.HasPrefix(path, "/stream/") {
		return permChatWrite, true
	}
	return permChatRead, true
}

// guard returns the authentication, rate limiting, and authorization
// middleware. With api_key_enabled off the gateway runs open and only
// rate limits by client address.
func (s *Server) guard() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			r := c.Request()
			perm, protected := requiredPermission(r.Method, r.URL.Path)
			if !protected {
				return next(c)
			}

			if !s.cfg.Security.APIKeyEnabled {
				if err := s.throttle(c, "anonymous"); err != nil {
					return s.writeError(c, err)
				}
				return next(c)
			}

			identity, err := s.authenticate(c)
			if err != nil {
				return s.writeError(c, err)
			}

			clientID := "anonymous"
			if identity != nil {
				clientID = identity.ClientID
			}
			if err := s.throttle(c, clientID); err != nil {
				return s.writeError(c, err)
			}

			if err := s.securityMgr.Authorize(identity, perm); err != nil {
				return s.writeError(c, err)
			}
			return next(c)
		}
	}
}

// authenticate resolves the caller's identity from the Authorization or
// X-API-Key header. No credentials at all is not an error; Authorize
// rejects the nil identity on protected routes.
func (s *Server) authenticate(c *echo.Context) (*security.Identity, error) {
	r := c.Request()

	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return nil, fault.New(fault.KindAuthentication, "authorization header must use the Bearer scheme")
		}
		raw = strings.TrimSpace(raw)
		// API keys may ride in the Bearer slot; the pa_ prefix tells
		// them apart from JWTs.
		if strings.HasPrefix(raw, "pa_") {
			return s.securityMgr.VerifyAPIKey(r.Context(), raw)
		}
		return s.securityMgr.VerifyToken(raw)
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return s.securityMgr.VerifyAPIKey(r.Context(), key)
	}

	return nil, nil
}

// throttle runs one request through the rate limiter.
func (s *Server) throttle(c *echo.Context, clientID string) error {
	if s.limiter == nil || !s.cfg.Security.RateLimitingEnabled {
		return nil
	}
	d := s.limiter.Allow(clientID, clientIP(c.Request()))
	if d.Allowed {
		return nil
	}
	return &fault.Error{
		Kind:       fault.KindRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: d.RetryAfter,
	}
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
