// Package pipeline accepts raw telemetry events, persists critical ones
// immediately and batches everything into the durable store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"repairpulse/internal/events"
)

var (
	// ErrQueueFull is returned when MaxQueueDepth is set and reached. The
	// event is not kept; the caller may retry it.
	ErrQueueFull = errors.New("pipeline: queue is full")
	// ErrNotRunning is returned once the pipeline has been shut down.
	ErrNotRunning = errors.New("pipeline: not running")
)

const eventCacheKeyPrefix = "event:"

// Cache holds just-ingested events. Failures are logged and never fatal.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (any, bool, error)
}

// EventCacheKey returns the cache key of an event id.
func EventCacheKey(id string) string {
	return eventCacheKeyPrefix + id
}

// ProcessResult is returned once an event has been accepted.
// Acceptance does not imply durability.
type ProcessResult struct {
	EventID    string `json:"event_id"`
	QueueDepth int    `json:"queue_depth"`
}

// FlushResult describes a single flush.
type FlushResult struct {
	Dequeued     int   `json:"dequeued"`
	Inserted     int64 `json:"inserted"`
	Requeued     int   `json:"requeued"`
	DeadLettered int   `json:"dead_lettered"`
	Skipped      bool  `json:"skipped"`
	Err          error `json:"-"`
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	Running             bool   `json:"running"`
	Accepted            uint64 `json:"accepted"`
	Rejected            uint64 `json:"rejected"`
	Persisted           uint64 `json:"persisted"`
	Requeued            uint64 `json:"requeued"`
	DeadLettered        uint64 `json:"dead_lettered"`
	CriticalWrites      uint64 `json:"critical_writes"`
	CriticalFailures    uint64 `json:"critical_failures"`
	AggregationFailures uint64 `json:"aggregation_failures"`
}

type counters struct {
	accepted            atomic.Uint64
	rejected            atomic.Uint64
	persisted           atomic.Uint64
	requeued            atomic.Uint64
	deadLettered        atomic.Uint64
	criticalWrites      atomic.Uint64
	criticalFailures    atomic.Uint64
	aggregationFailures atomic.Uint64
}

// Pipeline owns the queue, the flush ticker and the collaborators of the
// ingestion path.
type Pipeline struct {
	repo        events.Repository
	cache       Cache
	deadLetters DeadLetterSink
	enricher    *events.Enricher
	logger      *slog.Logger

	batchSize     int
	flushInterval time.Duration
	maxRetries    int
	maxQueueDepth int
	eventCacheTTL time.Duration

	queue *Queue
	stats counters

	// Replayed events not yet persisted or dead-lettered again, plus one
	// while a replay is still pushing. The sink is acked when it reaches
	// zero, unless keepReplay was set by a failed dead-letter write.
	replayPending atomic.Int64
	keepReplay    atomic.Bool

	// Single-flusher guard.
	flushMutex sync.Mutex
	isFlushing bool

	// Critical writes still running. Add is only called under ingestMu so
	// it never races with the Wait in Shutdown.
	criticalWrites sync.WaitGroup

	ingestMu sync.RWMutex
	closed   bool

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	loopDone    chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithBatchSize(n int) Option {
	return func(p *Pipeline) { p.batchSize = n }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.flushInterval = d }
}

// WithMaxRetries sets how many failed flushes an event may be part of
// before it is dead-lettered.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) { p.maxRetries = n }
}

// WithMaxQueueDepth bounds the queue. Zero means unbounded.
func WithMaxQueueDepth(n int) Option {
	return func(p *Pipeline) { p.maxQueueDepth = n }
}

func WithEventCacheTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.eventCacheTTL = d }
}

func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(p *Pipeline) { p.deadLetters = sink }
}

func WithEnricher(e *events.Enricher) Option {
	return func(p *Pipeline) { p.enricher = e }
}

func New(repo events.Repository, cache Cache, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		repo:          repo,
		cache:         cache,
		logger:        logger,
		batchSize:     100,
		flushInterval: 5 * time.Second,
		maxRetries:    5,
		eventCacheTTL: time.Hour,
		queue:         NewQueue(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.enricher == nil {
		p.enricher = events.NewEnricher()
	}
	if p.deadLetters == nil {
		p.deadLetters = NewMemoryDeadLetterSink()
	}
	if p.batchSize < 1 {
		p.batchSize = 1
	}
	if p.maxRetries < 1 {
		p.maxRetries = 1
	}
	return p
}

// Start launches the flush ticker.
// Implements cartridge.BackgroundWorker interface.
func (p *Pipeline) Start() error {
	if p.isClosed() {
		return ErrNotRunning
	}

	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.running {
		p.logger.Info("Pipeline already running")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.loopDone = make(chan struct{})
	p.running = true

	go p.flushLoop(ctx, p.loopDone)

	p.logger.Info("Pipeline started",
		slog.Duration("flush_interval", p.flushInterval),
		slog.Int("batch_size", p.batchSize),
		slog.Int("max_retries", p.maxRetries),
		slog.Int("max_queue_depth", p.maxQueueDepth))
	return nil
}

func (p *Pipeline) flushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Flush(context.Background())
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts the pipeline down, waiting up to 30 seconds for the final drain.
// Implements cartridge.BackgroundWorker interface.
func (p *Pipeline) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		p.logger.Error("Pipeline shutdown incomplete", slog.Any("error", err))
	}
}

// Shutdown stops the ticker, waits for the in-flight flush and critical
// writes, then drains the queue. Events that still cannot be persisted are
// dead-lettered.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.ingestMu.Lock()
	if p.closed {
		p.ingestMu.Unlock()
		return nil
	}
	p.closed = true
	p.ingestMu.Unlock()

	// The loop runs flushes synchronously, so once it has exited no
	// ticker-driven flush is in flight.
	p.lifecycleMu.Lock()
	if p.running {
		p.cancel()
		<-p.loopDone
		p.running = false
	}
	p.lifecycleMu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		p.criticalWrites.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight writes: %w", ctx.Err())
	}

	for p.queue.Len() > 0 {
		if ctx.Err() != nil {
			break
		}
		result := p.Flush(ctx)
		if result.Skipped {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if result.Err != nil || result.Dequeued == 0 {
			break
		}
	}

	remaining := p.queue.PopFront(p.queue.Len())
	if len(remaining) > 0 {
		p.logger.Warn("Dead-lettering events left in queue at shutdown", slog.Int("count", len(remaining)))
		p.deadLetter(context.Background(), remaining, ReasonShutdown)
	}

	p.logger.Info("Pipeline stopped", slog.Uint64("persisted", p.stats.persisted.Load()))
	return nil
}

// ProcessEvent validates and enriches raw, fast-paths critical events,
// enqueues the event for the batch path and updates its session.
func (p *Pipeline) ProcessEvent(ctx context.Context, raw events.RawEvent) (*ProcessResult, error) {
	p.ingestMu.RLock()
	defer p.ingestMu.RUnlock()
	if p.closed {
		return nil, ErrNotRunning
	}

	event, err := p.enricher.Enrich(raw)
	if err != nil {
		p.stats.rejected.Add(1)
		return nil, err
	}

	depth, ok := p.queue.TryPushBack(&queuedEvent{event: event, enqueuedAt: time.Now().UTC()}, p.maxQueueDepth)
	if !ok {
		p.stats.rejected.Add(1)
		p.logger.Warn("Queue full, rejecting event",
			slog.String("event_id", event.ID),
			slog.Int("max_queue_depth", p.maxQueueDepth))
		return nil, ErrQueueFull
	}
	p.stats.accepted.Add(1)

	if event.IsCritical() {
		p.persistCritical(event)
	}

	if _, err := p.repo.UpsertSession(ctx, event); err != nil {
		p.stats.aggregationFailures.Add(1)
		p.logger.Error("Session aggregation failed",
			slog.String("event_id", event.ID),
			slog.String("session_id", event.SessionID),
			slog.Any("error", err))
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, EventCacheKey(event.ID), event, p.eventCacheTTL); err != nil {
			p.logger.Warn("Failed to cache event", slog.String("event_id", event.ID), slog.Any("error", err))
		}
	}

	return &ProcessResult{EventID: event.ID, QueueDepth: depth}, nil
}

// persistCritical writes event immediately in the background. A failure is
// logged and left to the batch path.
func (p *Pipeline) persistCritical(event *events.AnalyticsEvent) {
	p.criticalWrites.Add(1)
	go func() {
		defer p.criticalWrites.Done()
		defer func() {
			if r := recover(); r != nil {
				p.stats.criticalFailures.Add(1)
				p.logger.Error("Panic recovered in critical write",
					slog.String("event_id", event.ID),
					slog.Any("panic", r))
			}
		}()

		if err := p.repo.InsertEvent(context.Background(), event); err != nil {
			p.stats.criticalFailures.Add(1)
			p.logger.Error("Critical event write failed",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.EventType),
				slog.Any("error", err))
			return
		}
		p.stats.criticalWrites.Add(1)
		p.logger.Debug("Critical event persisted",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.EventType))
	}()
}

// Flush persists up to one batch. Only one flush runs at a time; a call made
// while another is in flight returns a skipped result.
func (p *Pipeline) Flush(ctx context.Context) FlushResult {
	p.flushMutex.Lock()
	if p.isFlushing {
		p.flushMutex.Unlock()
		p.logger.Debug("Skipping flush - previous flush still running")
		return FlushResult{Skipped: true}
	}
	p.isFlushing = true
	p.flushMutex.Unlock()

	var result FlushResult
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic recovered in flush", slog.Any("panic", r))
			result.Err = fmt.Errorf("flush panicked: %v", r)
		}
		p.flushMutex.Lock()
		p.isFlushing = false
		p.flushMutex.Unlock()
	}()

	result = p.flushBatch(ctx)
	return result
}

func (p *Pipeline) flushBatch(ctx context.Context) FlushResult {
	batch := p.queue.PopFront(p.batchSize)
	if len(batch) == 0 {
		return FlushResult{}
	}

	result := FlushResult{Dequeued: len(batch)}
	evts := lo.Map(batch, func(item *queuedEvent, _ int) *events.AnalyticsEvent { return item.event })

	inserted, err := p.repo.BulkInsertEvents(ctx, evts)
	if err != nil {
		result.Err = err
		result.Requeued, result.DeadLettered = p.handleFailedBatch(ctx, batch, err)
		p.logger.Error("Batch flush failed",
			slog.Int("batch_size", len(batch)),
			slog.Int("requeued", result.Requeued),
			slog.Int("dead_lettered", result.DeadLettered),
			slog.Any("error", err))
		return result
	}

	result.Inserted = inserted
	p.stats.persisted.Add(uint64(len(batch)))

	ids := lo.Map(evts, func(e *events.AnalyticsEvent, _ int) string { return e.ID })
	if err := p.repo.MarkProcessed(ctx, ids); err != nil {
		p.logger.Error("Failed to mark events processed", slog.Int("count", len(ids)), slog.Any("error", err))
	}

	p.aggregate(ctx, evts)
	p.settleReplay(ctx, countReplayed(batch))

	p.logger.Debug("Flushed batch",
		slog.Int("dequeued", len(batch)),
		slog.Int64("inserted", inserted),
		slog.Int("queue_depth", p.queue.Len()))
	return result
}

// aggregate runs both aggregation stages for persisted events. The session
// stage is a no-op for events already aggregated at ingestion.
func (p *Pipeline) aggregate(ctx context.Context, evts []*events.AnalyticsEvent) {
	for _, e := range evts {
		if _, err := p.repo.UpsertSession(ctx, e); err != nil {
			p.stats.aggregationFailures.Add(1)
			p.logger.Error("Session aggregation failed", slog.String("event_id", e.ID), slog.Any("error", err))
		}
		if _, err := p.repo.UpsertDailyRollup(ctx, e); err != nil {
			p.stats.aggregationFailures.Add(1)
			p.logger.Error("Rollup aggregation failed", slog.String("event_id", e.ID), slog.Any("error", err))
		}
	}
}

// handleFailedBatch requeues the batch at the head of the queue in its
// original order, minus events that have used up their retries.
func (p *Pipeline) handleFailedBatch(ctx context.Context, batch []*queuedEvent, cause error) (requeued, deadLettered int) {
	var retry, exhausted []*queuedEvent
	for _, item := range batch {
		item.attempts++
		item.lastErr = cause
		if item.attempts >= p.maxRetries {
			exhausted = append(exhausted, item)
		} else {
			retry = append(retry, item)
		}
	}

	p.queue.PushFront(retry)
	p.stats.requeued.Add(uint64(len(retry)))

	if len(exhausted) > 0 {
		p.deadLetter(ctx, exhausted, ReasonRetriesExhausted)
	}
	return len(retry), len(exhausted)
}

func (p *Pipeline) deadLetter(ctx context.Context, items []*queuedEvent, reason string) {
	replayed := countReplayed(items)
	defer p.settleReplay(ctx, replayed)

	now := time.Now().UTC()
	letters := lo.Map(items, func(item *queuedEvent, _ int) DeadLetter {
		l := DeadLetter{
			Event:          item.event,
			Reason:         reason,
			Attempts:       item.attempts,
			DeadLetteredAt: now,
		}
		if item.lastErr != nil {
			l.LastError = item.lastErr.Error()
		}
		return l
	})

	if err := p.deadLetters.Write(ctx, letters); err != nil {
		if replayed > 0 {
			p.keepReplay.Store(true)
		}
		p.logger.Error("Failed to write dead letters, events dropped",
			slog.String("reason", reason),
			slog.Any("event_ids", lo.Map(items, func(item *queuedEvent, _ int) string { return item.event.ID })),
			slog.Any("error", err))
		return
	}
	p.stats.deadLettered.Add(uint64(len(letters)))
	p.logger.Warn("Events dead-lettered", slog.String("reason", reason), slog.Int("count", len(letters)))
}

// ReplayDeadLetters moves dead-lettered events back onto the queue with a
// fresh retry budget. Letters that do not fit under MaxQueueDepth are written
// back to the sink. The sink keeps the drained letters until every replayed
// event has been persisted or dead-lettered again, and a replay started
// before then is a no-op. It returns the number of events requeued.
func (p *Pipeline) ReplayDeadLetters(ctx context.Context) (int, error) {
	p.ingestMu.RLock()
	defer p.ingestMu.RUnlock()
	if p.closed {
		return 0, ErrNotRunning
	}

	if !p.replayPending.CompareAndSwap(0, 1) {
		p.logger.Info("Previous dead letter replay still in flight, skipping",
			slog.Int64("pending", p.replayPending.Load()-1))
		return 0, nil
	}
	defer p.settleReplay(ctx, 1)

	letters, err := p.deadLetters.Drain(ctx)
	if err != nil {
		p.keepReplay.Store(true)
		return 0, fmt.Errorf("failed to drain dead letters: %w", err)
	}

	replayed := 0
	var overflow []DeadLetter
	for _, l := range letters {
		if l.Event == nil {
			continue
		}
		p.replayPending.Add(1)
		item := &queuedEvent{event: l.Event, enqueuedAt: time.Now().UTC(), replayed: true}
		if _, ok := p.queue.TryPushBack(item, p.maxQueueDepth); !ok {
			p.replayPending.Add(-1)
			overflow = append(overflow, l)
			continue
		}
		replayed++
	}

	if len(overflow) > 0 {
		if err := p.deadLetters.Write(ctx, overflow); err != nil {
			p.keepReplay.Store(true)
			return replayed, fmt.Errorf("failed to return %d dead letters to sink: %w", len(overflow), err)
		}
	}

	if replayed > 0 {
		p.logger.Info("Replayed dead letters", slog.Int("count", replayed), slog.Int("deferred", len(overflow)))
	}
	return replayed, nil
}

// settleReplay marks n replayed events as resolved. Once none are left the
// drained letters are released from the sink.
func (p *Pipeline) settleReplay(ctx context.Context, n int) {
	if n == 0 || p.replayPending.Add(-int64(n)) != 0 {
		return
	}
	if p.keepReplay.Swap(false) {
		p.logger.Warn("Keeping drained dead letters for the next replay")
		return
	}
	if err := p.deadLetters.Ack(ctx); err != nil {
		p.logger.Error("Failed to release replayed dead letters", slog.Any("error", err))
	}
}

func countReplayed(items []*queuedEvent) int {
	return lo.CountBy(items, func(item *queuedEvent) bool { return item.replayed })
}

// CachedEvent returns a just-ingested event from the cache.
func (p *Pipeline) CachedEvent(ctx context.Context, id string) (*events.AnalyticsEvent, bool) {
	if p.cache == nil {
		return nil, false
	}
	v, ok, err := p.cache.Get(ctx, EventCacheKey(id))
	if err != nil {
		p.logger.Warn("Failed to read event cache", slog.String("event_id", id), slog.Any("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	event, ok := v.(*events.AnalyticsEvent)
	return event, ok
}

func (p *Pipeline) isClosed() bool {
	p.ingestMu.RLock()
	defer p.ingestMu.RUnlock()
	return p.closed
}

// QueueDepth returns the number of events waiting for the batch path.
func (p *Pipeline) QueueDepth() int {
	return p.queue.Len()
}

// IsRunning reports whether the flush loop is active.
func (p *Pipeline) IsRunning() bool {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	return p.running
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		QueueDepth:          p.queue.Len(),
		Running:             p.IsRunning(),
		Accepted:            p.stats.accepted.Load(),
		Rejected:            p.stats.rejected.Load(),
		Persisted:           p.stats.persisted.Load(),
		Requeued:            p.stats.requeued.Load(),
		DeadLettered:        p.stats.deadLettered.Load(),
		CriticalWrites:      p.stats.criticalWrites.Load(),
		CriticalFailures:    p.stats.criticalFailures.Load(),
		AggregationFailures: p.stats.aggregationFailures.Load(),
	}
}
