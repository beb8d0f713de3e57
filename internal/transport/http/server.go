// Package http exposes the job, pool and test operations over a JSON API and pushes job status
// over websockets.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"qmaster-service/internal/app"
)

// Services are the use cases served over HTTP.
type Services struct {
	Jobs        *app.JobManager
	Pools       *app.QuestionPool
	Tests       *app.TestSessionManager
	Scorer      *app.AnswerScorer
	Leaderboard *app.LeaderboardAggregator
}

// Config tunes the HTTP surface.
type Config struct {
	JWTSecret      string
	AllowedOrigins []string
	// MaxBodyBytes caps JSON bodies.
	MaxBodyBytes int64
	// MaxUploadBytes caps multipart uploads.
	MaxUploadBytes int64
	// DefaultSubject is used when an upload omits its subject.
	DefaultSubject string
}

// Server holds the handlers and their dependencies.
type Server struct {
	svc      Services
	cfg      Config
	auth     *Authenticator
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(svc Services, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.DefaultSubject == "" {
		cfg.DefaultSubject = "General"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		svc:    svc,
		cfg:    cfg,
		auth:   NewAuthenticator(cfg.JWTSecret),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.requestLogger, metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/ws/jobs/{id}", s.serveJobStatusWS)

		r.Route("/api", func(r chi.Router) {
			r.Post("/jobs", s.createJob)
			r.Get("/jobs/{id}", s.getJob)

			r.Get("/pools/{id}", s.getPool)
			r.Delete("/pools/{id}/items/{itemId}", s.invalidateItem)
			r.Get("/pools/{id}/history", s.questionHistory)

			r.Post("/tests", s.createTest)
			r.Get("/tests", s.listTests)
			r.Post("/tests/{token}/join", s.joinTest)
			r.Post("/tests/{token}/submit", s.submitTest)
			r.Get("/tests/{token}/leaderboard", s.leaderboard)
			r.Get("/tests/{token}/leaderboard.xlsx", s.exportLeaderboard)
			r.Get("/tests/{token}/results", s.results)
			r.Get("/tests/{token}/submission", s.mySubmission)

			r.Get("/me/submissions", s.history)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
