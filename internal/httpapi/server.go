// Package httpapi exposes the aggregator over HTTP: a small REST control
// plane (bosses, tweets, metadata, metrics, remove) and a newline-delimited
// JSON streaming endpoint for long-lived subscribers. It is grounded on
// the teacher's api.go/internal/httpapi Echo wiring: HideBanner/HidePort,
// a Recover + request-logging middleware pair, JSON error responses, and a
// graceful Run(ctx, addr) that shuts the Echo server down on cancellation.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"raidhub/internal/aggregator"
	"raidhub/internal/raid"
	"raidhub/internal/store"
)

// Server is the Echo application wrapping an aggregator Client.
type Server struct {
	echo   *echo.Echo
	client aggregator.Client
	audit  *store.Store

	limiterMu sync.RWMutex
	limiters  map[string]*rate.Limiter
	rps       rate.Limit
	burst     int
}

// SetAuditStore wires a settings/audit store so admin actions (currently
// DELETE /bosses/:name) are recorded in its audit_log table. Optional;
// without one, removals simply aren't audited.
func (s *Server) SetAuditStore(st *store.Store) {
	s.audit = st
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.limiterMu.RLock()
	l, ok := s.limiters[ip]
	s.limiterMu.RUnlock()
	if ok {
		return l
	}

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	if l, ok := s.limiters[ip]; ok {
		return l
	}
	l = rate.NewLimiter(s.rps, s.burst)
	s.limiters[ip] = l
	return l
}

// New constructs an Echo app wired to client. rps/burst configure the
// per-remote-address rate limiter guarding every route, generalizing the
// teacher's hand-rolled limits.go counters to golang.org/x/time/rate.
func New(client aggregator.Client, rps float64, burst int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		client:   client,
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	e.Use(s.requestLogger())
	e.Use(s.rateLimit())
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			connID := uuid.NewString()
			c.Set("conn_id", connID)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			slog.Info("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
				"conn_id", connID,
			)
			return nil
		}
	}
}

func (s *Server) rateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.rps <= 0 {
				return next(c)
			}
			if !s.limiterFor(c.RealIP()).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/bosses", s.handleBosses)
	s.echo.GET("/bosses/:name/tweets", s.handleTweets)
	s.echo.GET("/metadata", s.handleMetadata)
	s.echo.GET("/metrics", s.handleMetrics)
	s.echo.DELETE("/bosses/:name", s.handleRemoveBoss)
	s.echo.POST("/heartbeat", s.handleHeartbeat)
	s.echo.GET("/stream", s.handleStream)
	s.echo.GET("/audit", s.handleAuditLog)
}

// Run starts Echo and blocks until ctx cancellation or startup failure,
// mirroring the teacher's api.go Run(ctx, addr).
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http api")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBosses(c echo.Context) error {
	bosses, err := s.client.Bosses()
	if err != nil {
		return mapClientErr(err)
	}
	return c.JSON(http.StatusOK, bosses)
}

func (s *Server) handleTweets(c echo.Context) error {
	name := c.Param("name")
	tweets, err := s.client.Tweets(name)
	if err != nil {
		return mapClientErr(err)
	}
	return c.JSON(http.StatusOK, tweets)
}

func (s *Server) handleMetadata(c echo.Context) error {
	meta, err := s.client.ExportMetadata()
	if err != nil {
		return mapClientErr(err)
	}
	return c.JSON(http.StatusOK, meta)
}

func (s *Server) handleMetrics(c echo.Context) error {
	snap, err := s.client.ExportMetrics()
	if err != nil {
		return mapClientErr(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleRemoveBoss(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "boss name is required")
	}
	err := s.client.RemoveBosses(func(b raid.Boss) bool { return b.Name == name })
	if err != nil {
		return mapClientErr(err)
	}
	if s.audit != nil {
		actor := c.RealIP()
		if err := s.audit.InsertAuditLog(actor, "remove_bosses", name, ""); err != nil {
			slog.Warn("httpapi: audit log insert failed", "err", err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// handleAuditLog lists recent admin actions (currently only boss removals)
// for operator inspection. Returns an empty list when no audit store was
// wired via SetAuditStore.
func (s *Server) handleAuditLog(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusOK, []store.AuditEntry{})
	}
	limit := 100
	entries, err := s.audit.GetAuditLog(c.QueryParam("action"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("audit log: %v", err))
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleHeartbeat(c echo.Context) error {
	if err := s.client.Heartbeat(); err != nil {
		return mapClientErr(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// handleStream upgrades to a chunked response and writes one adapted item
// per line as newline-delimited JSON, until the client disconnects. This
// is the reference HTTP transport the distilled specification's §6 notes:
// a thin adapter over the opaque Item the aggregator produces.
func (s *Server) handleStream(c echo.Context) error {
	sub := newStreamSubscriber()
	subscription, err := s.client.Subscribe(sub)
	if err != nil {
		return mapClientErr(err)
	}
	defer subscription.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.Writer.(http.Flusher)
	if flusher != nil {
		// Send the headers now so the client's request completes before
		// the first item arrives.
		flusher.Flush()
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-sub.items:
			if !ok {
				return nil
			}
			if err := enc.Encode(item); err != nil {
				return nil
			}
			if err := bw.Flush(); err != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func mapClientErr(err error) error {
	if errors.Is(err, aggregator.ErrClosed) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "aggregator closed")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err))
}
