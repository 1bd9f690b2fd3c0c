package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentstream/streamservice/internal/domain"
)

type StreamEngine interface {
	Aggregate(ctx context.Context, req domain.StreamRequest, baseURL *url.URL) ([]domain.CandidateStream, error)
	SourceDiagnostics() []domain.SourceDiagnostics
}

// LinkResolver turns a cached torrent file into a direct download URL.
type LinkResolver interface {
	Resolve(ctx context.Context, infoHash, file string) (string, error)
}

type Server struct {
	engine   StreamEngine
	links    LinkResolver
	logger   *slog.Logger
	manifest Manifest
	token    string
	baseURL  *url.URL

	rateRPS   float64
	rateBurst int
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLinkResolver enables the /real-debrid redirect route.
func WithLinkResolver(links LinkResolver) ServerOption {
	return func(s *Server) {
		s.links = links
	}
}

// WithToken mounts the addon routes under /<token>.
func WithToken(token string) ServerOption {
	return func(s *Server) {
		s.token = strings.Trim(strings.TrimSpace(token), "/")
	}
}

// WithBaseURL fixes the external URL used for links handed to players.
// Without it the URL is derived from each request.
func WithBaseURL(raw string) ServerOption {
	return func(s *Server) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		if parsed, err := url.Parse(raw); err == nil && parsed.Host != "" {
			s.baseURL = parsed
		}
	}
}

func WithManifest(manifest Manifest) ServerOption {
	return func(s *Server) {
		s.manifest = manifest
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateRPS = rps
			s.rateBurst = burst
		}
	}
}

func NewServer(engine StreamEngine, options ...ServerOption) *Server {
	server := &Server{
		engine:    engine,
		logger:    slog.Default(),
		manifest:  DefaultManifest(),
		rateRPS:   50,
		rateBurst: 100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /providers/health", s.handleProvidersHealth)

	prefix := s.prefix()
	mux.Handle(prefix+"/manifest.json", addonRoute(s.handleManifest))
	mux.Handle(prefix+"/stream/{type}/{id}", addonRoute(s.handleStream))
	mux.Handle(prefix+"/real-debrid/{hash}/{file}", addonRoute(s.handleRealDebrid))

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "stream-sources",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(requestIDMiddleware(traced))))
}

// addonRoute answers CORS preflights and accepts GET and HEAD only.
func addonRoute(handler http.HandlerFunc) http.Handler {
	return addonCORS.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}))
}

func (s *Server) prefix() string {
	if s.token == "" {
		return ""
	}
	return "/" + s.token
}

// requestBaseURL is the addon root for links in responses: the configured
// base URL or the request's own origin, with the token as the path.
func (s *Server) requestBaseURL(r *http.Request) *url.URL {
	var base url.URL
	if s.baseURL != nil {
		base = *s.baseURL
	} else {
		base.Scheme = "http"
		if r.TLS != nil {
			base.Scheme = "https"
		}
		if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
			base.Scheme = strings.ToLower(strings.Split(proto, ",")[0])
		}
		base.Host = r.Host
		if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); forwarded != "" {
			base.Host = strings.TrimSpace(strings.Split(forwarded, ",")[0])
		}
		if base.Host == "" {
			base.Host = "localhost:8000"
		}
	}
	base.Path = s.prefix()
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &base
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream engine is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.engine.SourceDiagnostics(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
