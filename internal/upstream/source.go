// Package upstream reads a newline-delimited JSON feed of raw posts and
// turns matching ones into raid.Info values for the aggregator. The real
// social-media client that produces this feed is out of scope (per the
// specification's Non-goals); this package only needs "a concrete Source
// to run standalone" against, either a replayable file/stdin for demos and
// tests or a TCP listener accepting the same wire shape. The line-at-a-time
// bufio.Scanner read loop is grounded on the streaming-response pattern
// used throughout the pack's Ollama clients (services/llm/ollama_llm.go),
// generalized here from an HTTP response body to any io.Reader.
package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"

	"raidhub/internal/parser"
	"raidhub/internal/raid"
)

// maxLineSize caps a single NDJSON line, mirroring the hash pipeline's
// bounded-body philosophy: a malformed or hostile feed cannot exhaust
// memory one line at a time.
const maxLineSize = 1 << 20 // 1 MB

// ReadAll scans r for newline-delimited JSON posts, parses each with
// parser.Parse, and sends recognized raid invitations on out until r is
// exhausted, ctx is canceled, or a read error occurs. Lines that are not
// valid JSON are skipped with a warning log; lines that parser.Parse
// rejects are skipped silently — this
// mirrors the distilled specification's "ParseError is not an error"
// policy from §7.
func ReadAll(ctx context.Context, r io.Reader, out chan<- raid.Info) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var post parser.Post
		if err := json.Unmarshal(line, &post); err != nil {
			slog.Warn("upstream: skipping malformed line", "err", err)
			continue
		}

		info, ok := parser.Parse(post)
		if !ok {
			continue
		}

		select {
		case out <- info:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("upstream: scan: %w", err)
	}
	return nil
}

// ListenAndServe accepts TCP connections on addr and reads an NDJSON feed
// from each, forwarding recognized raid invitations to out. It blocks
// until ctx is canceled. Intended for a demo "feed injector" process
// separate from raidhubd itself; production deployments would instead
// point a real social-media client's output at this listener.
func ListenAndServe(ctx context.Context, addr string, out chan<- raid.Info) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("upstream: listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("upstream: accept: %w", err)
			}
		}
		go func() {
			defer conn.Close()
			if err := ReadAll(ctx, conn, out); err != nil {
				slog.Warn("upstream: connection ended", "remote", conn.RemoteAddr(), "err", err)
			}
		}()
	}
}
