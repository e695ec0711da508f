package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/patrickspencer/chatbat/internal/web/api"
	"github.com/patrickspencer/chatbat/internal/web/ui"
)

// Server is the HTTP server for the chat UI and API.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewRouter builds the HTTP handler tree around a.
func NewRouter(a *api.API, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Metrics)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	a.RegisterRoutes(r)

	r.Handle("/metrics", promhttp.Handler())

	// Built-in minimal UI.
	r.Handle("/ui/*", http.StripPrefix("/ui/", ui.Handler()))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/ui/", http.StatusTemporaryRedirect)
	})

	return r
}

// NewServer creates a Server listening on addr. No write timeout is set:
// event streams stay open for the life of the connection. Shutdown cancels
// request contexts so open streams end instead of holding it up.
func NewServer(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancel)
	return &Server{
		httpServer: httpServer,
		logger:     logger,
	}
}

// Start begins listening and serving HTTP requests.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
