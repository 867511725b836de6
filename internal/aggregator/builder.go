package aggregator

import (
	"log/slog"

	"raidhub/internal/broadcast"
	"raidhub/internal/hashpipeline"
	"raidhub/internal/idpool"
	"raidhub/internal/metrics"
)

const defaultHistorySize = 10

// Builder constructs an Aggregator with chained setters, the Go analogue
// of the original's ClientBuilder fluent builder (original_source/src/
// client/builder.rs) — a concrete struct with chained setters rather than
// a generic trait-bounded builder, since Go has no equivalent constraint
// to work around.
type Builder struct {
	historySize int
	adapter     MessageAdapter
	metrics     metrics.Sink
	hashes      *hashpipeline.Pipeline
	logger      *slog.Logger
}

// NewBuilder returns a Builder with the distilled specification's default
// history size (10) and a no-op metrics sink.
func NewBuilder() *Builder {
	return &Builder{
		historySize: defaultHistorySize,
		metrics:     metrics.NoOp{},
	}
}

// WithHistorySize overrides the per-boss recent-tweet ring buffer capacity.
func (b *Builder) WithHistorySize(n int) *Builder {
	if n > 0 {
		b.historySize = n
	}
	return b
}

// WithMessageAdapter sets the function used to convert internal messages
// into opaque subscriber items. Required; Build panics without one.
func (b *Builder) WithMessageAdapter(f MessageAdapter) *Builder {
	b.adapter = f
	return b
}

// WithMetrics overrides the metrics sink. Defaults to a no-op sink.
func (b *Builder) WithMetrics(sink metrics.Sink) *Builder {
	if sink != nil {
		b.metrics = sink
	}
	return b
}

// WithHashPipeline wires a running hashpipeline.Pipeline for image-hash
// dispatch. Without one, new boss images are never hashed and translation
// linking never occurs.
func (b *Builder) WithHashPipeline(p *hashpipeline.Pipeline) *Builder {
	b.hashes = p
	return b
}

// WithLogger overrides the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// Build constructs the Aggregator. Panics if no MessageAdapter was set,
// since an aggregator that can never produce an outbound item is always a
// caller mistake.
func (b *Builder) Build() *Aggregator {
	if b.adapter == nil {
		panic("aggregator: Builder requires WithMessageAdapter")
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		historySize: b.historySize,
		adapter:     b.adapter,
		metrics:     b.metrics,
		hashes:      b.hashes,
		controlCh:   make(chan controlEvent, 64),
		catalog:     make(map[string]*bossEntry),
		pending:     make(map[string]*broadcast.Group[uint32, any]),
		global:      broadcast.New[uint32, any](),
		refs:        make(map[uint32]*subscriberRef),
		ids:         idpool.New(),
		closed:      make(chan struct{}),
		logger:      logger,
	}
}
