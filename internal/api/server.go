package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/quizgest/internal/cache"
	"github.com/dgallion1/quizgest/internal/config"
	"github.com/dgallion1/quizgest/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for quizgest.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	images       *cache.Store
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, images *cache.Store, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		images:       images,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints. Crop names are unguessable.
	r.Get("/health", s.handleHealth)
	r.Get("/images/{name}", s.handleImage)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.QuizgestAPIKey, s.log))

		r.Post("/api/extract", s.handleExtract)
		r.Route("/api/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleJobStatus)
			r.Get("/events", s.handleJobEvents)
			r.Get("/questions", s.handleJobQuestions)
			r.Get("/export.html", s.handleExportHTML)
			r.Get("/export.docx", s.handleExportDOCX)
		})
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
