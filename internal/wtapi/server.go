// Package wtapi exposes the aggregator over WebTransport: a low-latency
// alternative to the httpapi NDJSON stream for subscribers that can speak
// HTTP/3. Grounded on the teacher's client.go session/control-stream split
// (a per-client session wrapping a DatagramSender plus a control-stream
// writer) — here generalized to a single outbound unidirectional stream
// per subscriber carrying the same adapted JSON items the HTTP transport
// carries, since raid items have no latency-critical datagram analogue
// the way voice frames did in the teacher.
package wtapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"raidhub/internal/aggregator"
)

// Server accepts WebTransport sessions and streams adapted items to each
// over a dedicated unidirectional stream.
type Server struct {
	client aggregator.Client
	wt     *webtransport.Server
}

// New constructs a WebTransport server bound to addr with tlsConfig,
// wired to client.
func New(client aggregator.Client, addr string, tlsConfig *tls.Config) *Server {
	s := &Server{client: client}
	s.wt = &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
		},
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/wt/stream", s.handleSession)
	s.wt.H3.Handler = mux
	return s
}

// Run starts serving WebTransport sessions until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.wt.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutting down webtransport api")
		_ = s.wt.Close()
		return nil
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.wt.Upgrade(w, r)
	if err != nil {
		slog.Warn("wtapi: upgrade failed", "err", err)
		http.Error(w, "webtransport upgrade failed", http.StatusInternalServerError)
		return
	}

	sub := newSessionSubscriber()
	subscription, err := s.client.Subscribe(sub)
	if err != nil {
		_ = session.CloseWithError(1, "aggregator unavailable")
		return
	}
	defer subscription.Close()

	stream, err := session.OpenUniStream()
	if err != nil {
		slog.Warn("wtapi: open uni stream failed", "err", err)
		return
	}
	defer stream.Close()

	ctx := session.Context()
	enc := json.NewEncoder(stream)
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-sub.items:
			if !ok {
				return
			}
			if err := enc.Encode(item); err != nil {
				return
			}
		}
	}
}
