// Package api serves the /api/gus proxy routes the browser front end calls.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/config"
	"github.com/vindennt/gus-marketplace/internal/db"
)

// Authenticator guards routes that need a signed-in user. auth.Client is the
// production implementation
type Authenticator interface {
	Authenticate(next http.Handler) http.Handler
	// OptionalUser attaches the caller when a valid token is sent and lets
	// anonymous requests through
	OptionalUser(next http.Handler) http.Handler
}

// Publisher announces listing changes, see ws.Hub
type Publisher interface {
	Changed(ctx context.Context, action, id string) error
}

type Deps struct {
	Config    *config.Config
	Store     db.Store
	Auth      Authenticator
	Publisher Publisher
	Logger    *zap.Logger
}

type Server struct {
	store      db.Store
	publisher  Publisher
	adminEmail string
	limiter    *userLimiter
	logger     *zap.Logger
}

// RegisterRoutes mounts the health check and the listings routes on mux
func RegisterRoutes(mux *http.ServeMux, d Deps) *Server {
	s := &Server{
		store:      d.Store,
		publisher:  d.Publisher,
		adminEmail: d.Config.AdminEmail,
		limiter:    newUserLimiter(d.Config.ContactRatePerMinute),
		logger:     d.Logger,
	}

	mux.HandleFunc("GET /health/ping", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	})

	mux.Handle("GET /api/gus", d.Auth.OptionalUser(http.HandlerFunc(s.listListings)))
	mux.Handle("POST /api/gus/create", d.Auth.Authenticate(http.HandlerFunc(s.createListing)))
	mux.Handle("POST /api/gus/delete/{id}", d.Auth.Authenticate(http.HandlerFunc(s.deleteListing)))
	mux.Handle("POST /api/gus/contact-seller/{id}", d.Auth.Authenticate(http.HandlerFunc(s.contactSeller)))
	mux.Handle("GET /api/gus/upload-url", d.Auth.Authenticate(http.HandlerFunc(s.uploadURL)))

	return s
}

// Wrap adds CORS and request logging around the whole mux
func Wrap(h http.Handler, cfg *config.Config, logger *zap.Logger) http.Handler {
	return logRequests(logger, corsMiddleware(cfg.AllowedOrigins, h))
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack keeps websocket upgrades working through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
