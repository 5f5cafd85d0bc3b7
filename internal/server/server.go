// Package server provides the HTTP server and routing for the quote proxy.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"quoteproxy/internal/instrument"
	"quoteproxy/internal/provider"
)

// QuoteSource answers a batch of symbols with whatever quotes are available.
type QuoteSource interface {
	Quotes(ctx context.Context, symbols []string) map[string]provider.Quote
}

// Config holds server configuration
type Config struct {
	Log            zerolog.Logger
	Port           string
	Quotes         QuoteSource
	MaxSymbols     int
	CacheMaxAge    time.Duration
	RequestTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	quotes QuoteSource

	maxSymbols     int
	cacheControl   string
	requestTimeout time.Duration
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	age := int(cfg.CacheMaxAge / time.Second)
	age = max(5, min(age, 900))

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		quotes:         cfg.Quotes,
		maxSymbols:     cfg.MaxSymbols,
		cacheControl:   fmt.Sprintf("public, max-age=%d, s-maxage=%d", age, age),
		requestTimeout: cfg.RequestTimeout,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Get("/quotes", s.handleGetQuotes)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

type quoteJSON struct {
	Price     *float64 `json:"price,omitempty"`
	PrevClose *float64 `json:"prevClose,omitempty"`
	ChangePct *float64 `json:"changePct,omitempty"`
	LastTs    int64    `json:"lastTs,omitempty"`
}

type quotesResponse struct {
	Results map[string]quoteJSON `json:"results"`
}

// handleGetQuotes always answers 200; symbols without data are left out.
func (s *Server) handleGetQuotes(w http.ResponseWriter, r *http.Request) {
	symbols := instrument.ParseList(r.URL.Query().Get("symbols"), s.maxSymbols)

	resp := quotesResponse{Results: make(map[string]quoteJSON, len(symbols))}
	if len(symbols) > 0 && s.quotes != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		for sym, q := range s.quotes.Quotes(ctx, symbols) {
			item := quoteJSON{Price: q.Price, PrevClose: q.PrevClose, ChangePct: q.ChangePct}
			if !q.LastUpdated.IsZero() {
				item.LastTs = q.LastUpdated.UnixMilli()
			}
			resp.Results[sym] = item
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", s.cacheControl)
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		s.log.Debug().Err(err).Msg("Write quotes response")
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
