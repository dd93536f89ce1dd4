package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/launcher"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/runtime"
)

// RetentionStore is the slice of the repository the sweeper needs.
type RetentionStore interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Sweeper periodically deletes processed outbox messages past the retention
// age. Purge failures are logged and retried on the next interval, never
// fatal.
type Sweeper struct {
	store  RetentionStore
	logger log.Logger
	cfg    SweeperConfig

	stop     chan struct{}
	stopOnce sync.Once
}

var _ launcher.App = (*Sweeper)(nil)

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets a structured logger for the sweeper.
func WithSweeperLogger(logger log.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweeperConfig overrides the default retention configuration.
func WithSweeperConfig(cfg SweeperConfig) SweeperOption {
	return func(s *Sweeper) {
		s.cfg = cfg
	}
}

// NewSweeper creates a retention sweeper over the given store.
func NewSweeper(store RetentionStore, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	sweeper := &Sweeper{
		store:  store,
		logger: log.NewNop(),
		cfg:    DefaultSweeperConfig(),
		stop:   make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sweeper)
		}
	}

	sweeper.cfg.normalize()

	return sweeper, nil
}

// Run purges on the configured interval until Stop is called.
func (s *Sweeper) Run(l *launcher.Launcher) error {
	if s == nil {
		return ErrSweeperRequired
	}

	if l != nil && l.Logger != nil {
		l.Logger.Log(context.Background(), log.LevelInfo, "outbox sweeper started",
			log.String("interval", s.cfg.CleanupInterval.String()),
			log.String("retention", s.cfg.RetentionAge.String()),
		)
		defer l.Logger.Log(context.Background(), log.LevelInfo, "outbox sweeper stopped")
	}

	defer runtime.RecoverAndLog(s.logger, "outbox", "sweeper_run")

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(context.Background()); err != nil {
				s.logger.Log(context.Background(), log.LevelError, "outbox purge failed", log.Err(err))
			}
		}
	}
}

// SweepOnce purges processed messages older than the retention age and
// returns the number of rows removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, ErrSweeperRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	purged, err := s.store.PurgeOlderThan(ctx, s.cfg.RetentionAge)
	if err != nil {
		return 0, fmt.Errorf("purge processed messages: %w", err)
	}

	if purged > 0 {
		s.logger.Log(ctx, log.LevelInfo, "purged processed outbox messages", log.Int64("purged", purged))
	}

	return purged, nil
}

// Stop signals the sweeper loop to stop.
func (s *Sweeper) Stop() {
	if s == nil {
		return
	}

	s.stopOnce.Do(func() {
		close(s.stop)
	})
}
