// Package hashpipeline runs a bounded-concurrency worker that turns boss
// image URLs into perceptual hashes, feeding results back to the
// aggregator. The fetch step is grounded directly on the teacher's
// fetchLinkPreview (linkpreview.go): a short-timeout http.Client, a
// bounded CheckRedirect, and an io.LimitReader-capped body — the same
// shape, pointed at raw image bytes instead of an HTML page.
package hashpipeline

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"raidhub/internal/phash"
)

const (
	fetchTimeout  = 4 * time.Second
	maxBody       = 2 * 1024 * 1024 // 2 MB
	minDimension  = 16              // images smaller than this are treated as a decode failure
	defaultWorkers = 5
)

// Request asks the pipeline to fetch and hash the image at URL for the
// given boss name.
type Request struct {
	BossName string
	URL      string
}

// Result is delivered once per accepted, successfully-hashed request.
type Result struct {
	BossName string
	Hash     uint64
}

// Fetcher retrieves raw image bytes for a URL. The default implementation
// uses net/http; tests substitute a fake.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// Pipeline runs up to Concurrency fetches at a time and deduplicates
// in-flight requests by boss name. The in-flight marker for a name is
// cleared only when the aggregator has consumed the corresponding result
// (via MarkDelivered), not when the fetch itself completes — this prevents
// a slow result from being superseded by a duplicate request racing it.
type Pipeline struct {
	requests chan Request
	results  chan Result
	sem      chan struct{}
	fetch    Fetcher

	inflight chan map[string]bool // single-slot mailbox guarding the set
}

// New constructs a pipeline with the given worker concurrency. A
// concurrency of 0 or less uses a small default.
func New(concurrency int, fetch Fetcher) *Pipeline {
	if concurrency <= 0 {
		concurrency = defaultWorkers
	}
	if fetch == nil {
		fetch = defaultFetch
	}
	p := &Pipeline{
		requests: make(chan Request, 256),
		results:  make(chan Result, 256),
		sem:      make(chan struct{}, concurrency),
		fetch:    fetch,
		inflight: make(chan map[string]bool, 1),
	}
	p.inflight <- make(map[string]bool)
	return p
}

// Results returns the channel on which completed hashes are delivered.
func (p *Pipeline) Results() <-chan Result {
	return p.results
}

// QueueDepth reports how many requests are waiting to start a fetch. It is
// an approximation safe to call from any goroutine, intended for periodic
// metrics logging.
func (p *Pipeline) QueueDepth() int {
	return len(p.requests)
}

// Request submits a fetch-and-hash request. Duplicate requests for a boss
// name already in flight are silently dropped.
func (p *Pipeline) Request(req Request) {
	set := <-p.inflight
	if set[req.BossName] {
		p.inflight <- set
		return
	}
	set[req.BossName] = true
	p.inflight <- set

	select {
	case p.requests <- req:
	default:
		// Request queue is saturated; drop rather than block the caller,
		// and immediately clear the in-flight marker so a later request
		// for the same boss is not silently swallowed forever.
		set = <-p.inflight
		delete(set, req.BossName)
		p.inflight <- set
	}
}

// MarkDelivered clears the in-flight marker for name. Call this once the
// aggregator has consumed (or decided to drop) a result for name.
func (p *Pipeline) MarkDelivered(name string) {
	set := <-p.inflight
	delete(set, name)
	p.inflight <- set
}

// Run drains the request channel, fetching and hashing up to Concurrency
// images concurrently, until ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.requests:
			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go p.worker(ctx, req)
		}
	}
}

func (p *Pipeline) worker(ctx context.Context, req Request) {
	defer func() { <-p.sem }()

	// A failed request produces no result, so nothing would reach
	// MarkDelivered; clear the marker here so the boss can be requested again.
	data, err := p.fetch(ctx, req.URL)
	if err != nil {
		p.MarkDelivered(req.BossName)
		return // dropped, no retry — see §4.4
	}

	img, _, err := image.Decode(&sliceReader{data: data})
	if err != nil {
		p.MarkDelivered(req.BossName)
		return
	}
	b := img.Bounds()
	if b.Dx() < minDimension || b.Dy() < minDimension {
		p.MarkDelivered(req.BossName)
		return
	}

	h := phash.Hash(img)

	select {
	case p.results <- Result{BossName: req.BossName, Hash: h}:
	case <-ctx.Done():
	}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func defaultFetch(ctx context.Context, url string) ([]byte, error) {
	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("hashpipeline: build request: %w", err)
	}
	req.Header.Set("User-Agent", "raidhubd-hashpipeline/1.0")
	req.Header.Set("Accept", "image/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hashpipeline: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hashpipeline: unexpected status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBody)
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("hashpipeline: read body: %w", err)
	}
	return data, nil
}
