// Package proxy is the HTTP surface of the relay: the OpenAI-shaped
// /v1 API plus the authentication management endpoints.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/acme/autocert"

	"github.com/lkarlslund/copilot-relay/pkg/auth"
	"github.com/lkarlslund/copilot-relay/pkg/config"
	"github.com/lkarlslund/copilot-relay/pkg/copilot"
	"github.com/lkarlslund/copilot-relay/pkg/relay"
)

type Server struct {
	cfg        *config.Config
	manager    *auth.Manager
	upstream   *copilot.Client
	normalizer *relay.Normalizer
	router     chi.Router
	httpServer *http.Server
}

func NewServer(cfg *config.Config) *Server {
	store := auth.NewStore(cfg.TokenDir)
	flow := auth.NewDeviceFlow(cfg)
	manager := auth.NewManager(cfg, store, flow)
	return NewServerWithManager(cfg, manager)
}

// NewServerWithManager exists so callers owning the manager lifecycle
// (the login command, tests) can share one instance with the server.
func NewServerWithManager(cfg *config.Config, manager *auth.Manager) *Server {
	s := &Server{
		cfg:        cfg,
		manager:    manager,
		upstream:   copilot.NewClient(cfg),
		normalizer: relay.NewNormalizer(cfg.DefaultModel, cfg.DefaultEmbeddingModel),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/chat/completions", s.handleChatCompletions)
		v1.Post("/embeddings", s.handleEmbeddings)
		v1.Get("/models", s.handleListModels)
		v1.Get("/models/{modelID}", s.handleRetrieveModel)

		v1.Route("/auth", func(a chi.Router) {
			a.Post("/device", s.handleAuthDevice)
			a.Post("/poll", s.handleAuthPoll)
			a.Post("/token", s.handleAuthToken)
			a.Get("/status", s.handleAuthStatus)
			a.Post("/logout", s.handleAuthLogout)
		})
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	go s.manager.Run(ctx)
	errCh := make(chan error, 2)

	if s.cfg.TLS.Enabled {
		mgr := &autocert.Manager{
			Cache:      autocert.DirCache(s.cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.cfg.TLS.Domain),
			Email:      s.cfg.TLS.Email,
		}

		httpsSrv := &http.Server{
			Addr:              s.cfg.TLS.ListenAddr,
			Handler:           s.httpServer.Handler,
			ReadHeaderTimeout: s.httpServer.ReadHeaderTimeout,
			ReadTimeout:       s.httpServer.ReadTimeout,
			WriteTimeout:      s.httpServer.WriteTimeout,
			IdleTimeout:       s.httpServer.IdleTimeout,
			TLSConfig:         &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12},
		}

		httpChallenge := &http.Server{
			Addr:              ":80",
			Handler:           mgr.HTTPHandler(http.HandlerFunc(redirectHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info("http challenge/redirect listening", "addr", ":80")
			if err := httpChallenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http challenge server: %w", err)
			}
		}()

		go func() {
			log.Info("https listening", "addr", httpsSrv.Addr, "domain", s.cfg.TLS.Domain)
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpChallenge.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
		return firstErr(errCh)
	}

	go func() {
		log.Info("relay listening", "addr", s.cfg.ListenAddr, "upstream", s.cfg.APIBaseURL())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("relay server: %w", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	return firstErr(errCh)
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
}

func firstErr(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}
