package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nijaru/yt-transcript/config"
	"github.com/nijaru/yt-transcript/middleware"
	"github.com/nijaru/yt-transcript/transcription"
	"github.com/nijaru/yt-transcript/utils"
	"github.com/sirupsen/logrus"
)

// Server is the authenticated transcript gateway.
type Server struct {
	provider  transcription.Provider
	auth      *middleware.AuthGate
	config    *config.Config
	logger    *logrus.Logger
	server    *http.Server
	startTime time.Time
}

type ServerOption func(*Server)

// WithProvider replaces the subprocess provider built from the config.
func WithProvider(provider transcription.Provider) ServerOption {
	return func(s *Server) {
		s.provider = provider
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		config:    cfg,
		logger:    logrus.StandardLogger(),
		auth:      middleware.NewAuthGate(cfg.Gateway.AuthToken),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.provider == nil {
		s.provider = transcription.NewScriptProvider(
			cfg.Gateway.ProviderCommand,
			cfg.Gateway.UpstreamProxy,
			cfg.Gateway.ProviderTimeout,
			s.logger,
		)
	}

	s.server = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.WithField("port", s.config.Server.Port).Info("Starting server")
	if s.config.UsesDefaultToken() {
		s.logger.Warn("PROXY_AUTH_TOKEN is not set, the gateway accepts the default token")
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	videoRoutes := []videoRoute{
		{prefix: "/transcripts/", handler: s.auth.Middleware(http.HandlerFunc(s.handleListTranscripts))},
		{prefix: "/transcript/", handler: s.auth.Middleware(http.HandlerFunc(s.handleTranscript))},
	}

	return s.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, route := range videoRoutes {
			if route.serve(w, r) {
				return
			}
		}
		mux.ServeHTTP(w, r)
	}))
}

// videoRoute matches a path prefix without cleaning the rest of the path,
// so a full URL such as https://youtu.be/<id> survives as the video value.
// ServeMux would collapse the "//" and redirect.
type videoRoute struct {
	prefix  string
	handler http.Handler
}

func (vr videoRoute) serve(w http.ResponseWriter, r *http.Request) bool {
	ref, ok := strings.CutPrefix(r.URL.Path, vr.prefix)
	if !ok {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		utils.RespondJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Detail: "Method not allowed",
			Code:   "method_not_allowed",
		})
		return true
	}
	r.SetPathValue("video", ref)
	vr.handler.ServeHTTP(w, r)
	return true
}

func (s *Server) middleware(handler http.Handler) http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Logging(s.logger),
	}

	if rl := s.config.Gateway.RateLimit; rl.Enabled {
		limiter := middleware.NewRateLimiter(rl.RequestsPerMinute, rl.BurstSize)
		middlewares = append(middlewares, limiter.Middleware)
	}

	return middleware.Chain(handler, middlewares...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}
