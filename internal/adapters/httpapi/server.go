// Package httpapi expone el subsistema de torneos por HTTP con gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/tourneyd/internal/closure"
	"github.com/alejandrodnm/tourneyd/internal/deposit"
	"github.com/alejandrodnm/tourneyd/internal/tournament"
)

// Config del servidor HTTP.
type Config struct {
	Addr      string
	JWTSecret string
}

// Server agrupa las dependencias de los handlers.
type Server struct {
	cfg      Config
	svc      *tournament.Service
	closer   *closure.ManualCloser
	deposits *deposit.Reconciler
	http     *http.Server
}

// New crea el servidor. El router se construye en Handler.
func New(cfg Config, svc *tournament.Service, closer *closure.ManualCloser, deposits *deposit.Reconciler) *Server {
	s := &Server{cfg: cfg, svc: svc, closer: closer, deposits: deposits}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler construye el router gin con todas las rutas.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", requireAuth([]byte(s.cfg.JWTSecret)))
	api.POST("/games", s.registerGame)

	t := api.Group("/tournaments")
	t.POST("", s.createTournament)
	t.POST("/submit-result", s.submitResult)
	t.POST("/:id/close", s.closeTournament)
	t.GET("/closed", s.listClosed)
	t.GET("/closed/:id", s.getClosed)
	t.POST("/wallet", s.registerWallet)
	t.POST("/deposit-confirm", s.confirmDeposit)
	return r
}

// ListenAndServe sirve hasta que ctx se cancele y luego apaga con un margen de 10s.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("httpapi.ListenAndServe: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi.Shutdown: %w", err)
	}
	slog.Info("http server stopped")
	return nil
}

// requestLogger registra cada petición con slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
			"user", c.GetString(ctxUserID),
		)
	}
}
