package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/launcher"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Publisher sends one event body to the broker under the given routing key
// and does not return until the broker has accepted it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Dispatcher drains pending outbox messages to the broker on a fixed
// interval. Exactly one dispatcher instance runs per outbox store.
type Dispatcher struct {
	store     Store
	repo      Repository
	publisher Publisher
	logger    log.Logger
	tracer    trace.Tracer
	cfg       DispatcherConfig

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	dispatchWg sync.WaitGroup

	metrics dispatcherMetrics
}

var _ launcher.App = (*Dispatcher)(nil)

// Result captures one dispatch cycle outcome.
type Result struct {
	Fetched   int
	Published int
	Failed    int
	Skipped   int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets a structured logger for the dispatcher.
func WithDispatcherLogger(logger log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherTracer sets the tracer used around dispatch cycles.
func WithDispatcherTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithDispatcherConfig overrides the default dispatcher configuration.
func WithDispatcherConfig(cfg DispatcherConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.cfg = cfg
	}
}

// NewDispatcher creates an outbox dispatcher over the given store, repository,
// and publisher.
func NewDispatcher(store Store, repo Repository, publisher Publisher, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	if repo == nil {
		return nil, ErrRepositoryRequired
	}

	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	dispatcher := &Dispatcher{
		store:     store,
		repo:      repo,
		publisher: publisher,
		logger:    log.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer("outbox.noop"),
		cfg:       DefaultDispatcherConfig(),
		stop:      make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}

	dispatcher.cfg.normalize()

	metrics, err := newDispatcherMetrics(dispatcher.cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("init outbox metrics: %w", err)
	}

	dispatcher.metrics = metrics

	return dispatcher, nil
}

// Run starts the dispatcher loop until Stop is called.
func (d *Dispatcher) Run(l *launcher.Launcher) error {
	return d.RunContext(context.Background(), l)
}

// RunContext starts the dispatcher loop until Stop is called or ctx is
// cancelled. One dispatch cycle runs immediately, then one per interval.
func (d *Dispatcher) RunContext(parentCtx context.Context, l *launcher.Launcher) error {
	if d == nil {
		return ErrDispatcherRequired
	}

	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !d.registerRun(cancel) {
		cancel()

		return ErrDispatcherRunning
	}

	defer d.clearRun()

	if l != nil && l.Logger != nil {
		l.Logger.Log(context.Background(), log.LevelInfo, "outbox dispatcher started")
		defer l.Logger.Log(context.Background(), log.LevelInfo, "outbox dispatcher stopped")
	}

	defer runtime.RecoverAndLogWithContext(ctx, d.logger, "outbox", "dispatcher_run")

	ticker := time.NewTicker(d.cfg.DispatchInterval)
	defer ticker.Stop()

	d.runCycle(ctx, "outbox.dispatcher.initial_dispatch")

	for {
		select {
		case <-d.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case <-d.stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			d.runCycle(ctx, "outbox.dispatcher.dispatch_once")
		}
	}
}

func (d *Dispatcher) runCycle(ctx context.Context, spanName string) {
	d.dispatchWg.Add(1)
	defer d.dispatchWg.Done()

	cycleCtx, span := d.tracer.Start(ctx, spanName)
	defer span.End()
	defer runtime.RecoverAndLogWithContext(cycleCtx, d.logger, "outbox", "dispatcher_cycle")

	if _, err := d.DispatchOnce(cycleCtx); err != nil {
		d.logger.Log(cycleCtx, log.LevelError, "dispatch cycle failed", log.Err(err))
	}
}

// Stop signals the dispatcher loop to stop.
func (d *Dispatcher) Stop() {
	if d == nil {
		return
	}

	d.stopOnce.Do(func() {
		d.runStateMu.Lock()
		cancel := d.cancelFunc
		stop := d.stop

		if stop == nil {
			stop = make(chan struct{})
			d.stop = stop
		}
		d.runStateMu.Unlock()

		if cancel != nil {
			cancel()
		}

		close(stop)
	})
}

// Shutdown stops the loop and waits for the in-flight dispatch cycle.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	d.Stop()

	done := make(chan struct{})

	runtime.SafeGo(d.logger, "outbox.dispatcher_shutdown_wait", runtime.KeepRunning, func() {
		d.dispatchWg.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// DispatchOnce runs a single dispatch cycle inside one database transaction.
// Poisoned messages are skipped without a publish attempt. Publish happens
// before MarkProcessed, so delivery is at-least-once: if the commit fails
// after a publish, the message is republished on a later cycle and consumers
// must stay idempotent.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (Result, error) {
	if d == nil {
		return Result{}, ErrDispatcherRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now().UTC()

	ctx, span := d.tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	tx, err := d.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin dispatch transaction: %w", err)
	}

	result, err := d.dispatchInTx(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Log(ctx, log.LevelWarn, "failed to roll back dispatch transaction", log.Err(rbErr))
		}

		return Result{}, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit dispatch transaction: %w", err)
	}

	span.SetAttributes(
		attribute.Int("outbox.fetched", result.Fetched),
		attribute.Int("outbox.published", result.Published),
		attribute.Int("outbox.failed", result.Failed),
		attribute.Int("outbox.skipped", result.Skipped),
	)

	d.metrics.record(ctx, result, time.Since(start).Seconds())

	if result.Fetched > 0 {
		d.logger.Log(ctx, log.LevelInfo, "dispatch cycle finished",
			log.Int("fetched", result.Fetched),
			log.Int("published", result.Published),
			log.Int("failed", result.Failed),
			log.Int("skipped", result.Skipped),
		)
	}

	return result, nil
}

func (d *Dispatcher) dispatchInTx(ctx context.Context, tx Tx) (Result, error) {
	var result Result

	messages, err := d.repo.FetchPending(ctx, tx, d.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("fetch pending messages: %w", err)
	}

	result.Fetched = len(messages)

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}

		if msg == nil {
			continue
		}

		if msg.Poisoned(d.cfg.MaxRetries) {
			result.Skipped++

			d.logger.Log(ctx, log.LevelWarn, "skipping poisoned outbox message",
				log.Int64("message_id", msg.ID),
				log.String("event_type", msg.EventType),
				log.Int("retry_count", msg.RetryCount),
			)

			continue
		}

		if err := d.publisher.Publish(ctx, msg.EventType, msg.Payload); err != nil {
			result.Failed++

			d.logger.Log(ctx, log.LevelError, "failed to publish outbox message",
				log.Int64("message_id", msg.ID),
				log.String("event_type", msg.EventType),
				log.Int("retry_count", msg.RetryCount+1),
				log.Err(err),
			)

			if markErr := d.repo.MarkFailed(ctx, tx, msg.ID, sanitizeErrorForStorage(err)); markErr != nil {
				return Result{}, fmt.Errorf("mark message %d failed: %w", msg.ID, markErr)
			}

			continue
		}

		if err := d.repo.MarkProcessed(ctx, tx, msg.ID, time.Now().UTC()); err != nil {
			return Result{}, fmt.Errorf("mark message %d processed: %w", msg.ID, err)
		}

		result.Published++
	}

	return result, nil
}

func (d *Dispatcher) registerRun(cancel context.CancelFunc) bool {
	d.runStateMu.Lock()
	defer d.runStateMu.Unlock()

	if d.running {
		return false
	}

	d.running = true
	d.cancelFunc = cancel

	return true
}

func (d *Dispatcher) clearRun() {
	d.runStateMu.Lock()
	defer d.runStateMu.Unlock()

	d.running = false
	d.cancelFunc = nil
}
