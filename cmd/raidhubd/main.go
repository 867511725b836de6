// Command raidhubd runs the raid-boss aggregator: it reads a
// newline-delimited JSON feed of raw posts, recognizes raid-invitation
// announcements, hashes boss images to link translations, and serves the
// resulting catalog over an HTTP control plane and an optional
// WebTransport data plane.
//
// Wiring mirrors the teacher's main.go shape: open the store, seed
// defaults, construct the core, wire callbacks, start background
// goroutines, then run the servers, all hung off one cancellable context.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"raidhub/internal/aggregator"
	"raidhub/internal/hashpipeline"
	"raidhub/internal/httpapi"
	"raidhub/internal/metrics"
	"raidhub/internal/metricslog"
	"raidhub/internal/raid"
	"raidhub/internal/store"
	"raidhub/internal/tlsutil"
	"raidhub/internal/upstream"
	"raidhub/internal/wtapi"
)

func main() {
	apiAddr := flag.String("api-addr", ":8080", "HTTP control-plane listen address")
	wtAddr := flag.String("wt-addr", "", "WebTransport listen address (empty to disable)")
	upstreamAddr := flag.String("upstream-addr", "", "TCP address to accept an NDJSON post feed on (empty to read stdin instead)")
	dbPath := flag.String("db", "raidhub.db", "SQLite database path for settings and audit log")
	historySize := flag.Int("history-size", 10, "recent-tweet ring buffer capacity per boss")
	hashConcurrency := flag.Int("hash-concurrency", 5, "max concurrent image-hash fetches")
	heartbeatInterval := flag.Duration("heartbeat-interval", 30*time.Second, "interval between heartbeat broadcasts")
	metricsInterval := flag.Duration("metrics-interval", 5*time.Second, "interval between metrics log lines")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity, used when -wt-addr is set")
	rateLimit := flag.Float64("rate-limit", 20, "HTTP requests per second allowed per client IP")
	rateBurst := flag.Int("rate-burst", 40, "HTTP request burst allowed per client IP")
	flag.Parse()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()
	seedDefaults(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("raidhubd: shutting down")
		cancel()
	}()

	hashes := hashpipeline.New(*hashConcurrency, nil)
	go hashes.Run(ctx)

	metricsSink := metrics.NewInMemory()

	agg := aggregator.NewBuilder().
		WithHistorySize(*historySize).
		WithMessageAdapter(jsonAdapter).
		WithMetrics(metricsSink).
		WithHashPipeline(hashes).
		Build()

	postCh := make(chan raid.Info, 64)

	go func() {
		if *upstreamAddr != "" {
			if err := upstream.ListenAndServe(ctx, *upstreamAddr, postCh); err != nil {
				slog.Error("raidhubd: upstream listener failed", "err", err)
				cancel()
			}
			return
		}
		if err := upstream.ReadAll(ctx, os.Stdin, postCh); err != nil {
			slog.Error("raidhubd: stdin upstream failed", "err", err)
			cancel()
		}
	}()

	go func() {
		if err := agg.Run(ctx, postCh, hashes.Results()); err != nil {
			slog.Error("raidhubd: aggregator stopped", "err", err)
			cancel()
		}
	}()

	client := agg.Client()

	go metricslog.Run(ctx, client, hashes, *metricsInterval)

	go func() {
		ticker := time.NewTicker(*heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = client.Heartbeat()
			}
		}
	}()

	if *wtAddr != "" {
		host, _, _ := net.SplitHostPort(*wtAddr)
		tlsConfig, fingerprint, err := tlsutil.GenerateConfig(*certValidity, host)
		if err != nil {
			log.Fatalf("[wtapi] %v", err)
		}
		slog.Info("raidhubd: webtransport TLS certificate", "fingerprint", fingerprint)

		wt := wtapi.New(client, *wtAddr, tlsConfig)
		go func() {
			if err := wt.Run(ctx); err != nil {
				slog.Error("raidhubd: webtransport server failed", "err", err)
				cancel()
			}
		}()
		slog.Info("raidhubd: webtransport listening", "addr", *wtAddr)
	}

	httpSrv := httpapi.New(client, *rateLimit, *rateBurst)
	httpSrv.SetAuditStore(st)
	slog.Info("raidhubd: http control plane listening", "addr", *apiAddr)
	if err := httpSrv.Run(ctx, *apiAddr); err != nil {
		log.Fatalf("[httpapi] %v", err)
	}
}

// jsonAdapter converts internal aggregator messages into the plain JSON
// shapes served over both the HTTP NDJSON stream and the WebTransport
// data plane.
func jsonAdapter(m aggregator.Message) (any, bool) {
	switch m.Kind {
	case aggregator.KindHeartbeat:
		return map[string]any{"type": "heartbeat"}, true
	case aggregator.KindTweet:
		return map[string]any{"type": "tweet", "tweet": m.Tweet}, true
	case aggregator.KindTweetList:
		return map[string]any{"type": "tweet_list", "tweets": m.Tweets}, true
	case aggregator.KindBossUpdate:
		return map[string]any{"type": "boss_update", "boss": m.Boss}, true
	case aggregator.KindBossList:
		return map[string]any{"type": "boss_list", "bosses": m.Bosses}, true
	case aggregator.KindBossRemove:
		return map[string]any{"type": "boss_remove", "boss": m.BossName}, true
	default:
		return nil, false
	}
}

// seedDefaults writes factory-default settings when they have not been
// set yet, mirroring the teacher's first-run initialization in main.go.
func seedDefaults(st *store.Store) {
	if _, ok, err := st.GetSetting("hub_name"); err == nil && !ok {
		if err := st.SetSetting("hub_name", "raidhub"); err != nil {
			slog.Warn("raidhubd: seed setting failed", "key", "hub_name", "err", err)
		}
	}
}
