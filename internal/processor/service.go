package processor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/events"
	"github.com/Gwatamalou/orderprocessor/internal/outbox"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	"github.com/shopspring/decimal"
)

// ErrServiceRequired is returned when a method is called on a nil Service.
var ErrServiceRequired = errors.New("processor service is required")

const aggregateTypeProcessing = "processing_record"

// DefaultFailureRate is the fraction of orders the random decider fails to
// exercise the failure path end to end.
const DefaultFailureRate = 0.2

// FailureDecider injects simulated processing failures. It exists so tests
// can force either outcome deterministically.
type FailureDecider interface {
	// ShouldFail reports whether processing of the event should fail, and
	// with what reason.
	ShouldFail(event events.OrderCreated) (string, bool)
}

// RandomFailureDecider fails a fixed fraction of orders at random.
type RandomFailureDecider struct {
	Rate float64
}

// ShouldFail implements FailureDecider.
func (d RandomFailureDecider) ShouldFail(events.OrderCreated) (string, bool) {
	if rand.Float64() < d.Rate {
		return "simulated processing failure", true
	}

	return "", false
}

// Service owns order processing: one record per order, one outcome event
// staged in the same transaction as the record's terminal state.
type Service struct {
	store   outbox.Store
	records Repository
	staging outbox.Repository
	decider FailureDecider
	logger  log.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets a structured logger for the service.
func WithServiceLogger(logger log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFailureDecider overrides the default random failure injection.
func WithFailureDecider(decider FailureDecider) ServiceOption {
	return func(s *Service) {
		if decider != nil {
			s.decider = decider
		}
	}
}

// NewService creates the processor service.
func NewService(store outbox.Store, records Repository, staging outbox.Repository, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, outbox.ErrStoreRequired
	}

	if records == nil {
		return nil, ErrRepositoryRequired
	}

	if staging == nil {
		return nil, outbox.ErrRepositoryRequired
	}

	svc := &Service{
		store:   store,
		records: records,
		staging: staging,
		decider: RandomFailureDecider{Rate: DefaultFailureRate},
		logger:  log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	return svc, nil
}

// ProcessOrder handles one order.created event. The first delivery creates a
// processing record and stages the order.processed outcome in the same
// transaction. Redeliveries of an already-recorded order are acknowledged
// without side effects, which is what makes at-least-once delivery safe.
func (s *Service) ProcessOrder(ctx context.Context, event events.OrderCreated) error {
	if s == nil {
		return ErrServiceRequired
	}

	existing, err := s.records.GetByOrderID(ctx, event.OrderID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("check existing processing record: %w", err)
	}

	if existing != nil {
		s.logger.Log(ctx, log.LevelInfo, "duplicate order.created event skipped",
			log.String("order_id", event.OrderID),
			log.String("status", string(existing.Status)),
		)

		return nil
	}

	record := NewRecord(event)

	if reason := s.evaluate(event); reason != "" {
		record.Status = StatusFailed
		record.ErrorMessage = &reason
	} else {
		record.Status = StatusCompleted
	}

	processedAt := time.Now().UTC()
	record.ProcessedAt = &processedAt

	msg, err := outbox.NewMessage(record.OrderID, aggregateTypeProcessing, events.TypeOrderProcessed, record.OutcomeEvent())
	if err != nil {
		return fmt.Errorf("build order.processed message: %w", err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin processing transaction: %w", err)
	}

	if err := s.processInTx(ctx, tx, record, msg, processedAt); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Log(ctx, log.LevelWarn, "failed to roll back processing transaction", log.Err(rbErr))
		}

		if errors.Is(err, ErrDuplicateRecord) {
			s.logger.Log(ctx, log.LevelInfo, "concurrent duplicate order.created event skipped",
				log.String("order_id", event.OrderID),
			)

			return nil
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit processing transaction: %w", err)
	}

	s.logger.Log(ctx, log.LevelInfo, "order processed",
		log.String("order_id", record.OrderID),
		log.String("status", string(record.Status)),
	)

	return nil
}

func (s *Service) processInTx(ctx context.Context, tx outbox.Tx, record *Record, msg *outbox.Message, processedAt time.Time) error {
	// The record is inserted in its processing state and transitioned in the
	// same transaction, so readers only ever observe terminal rows.
	insert := *record
	insert.Status = StatusProcessing
	insert.ErrorMessage = nil
	insert.ProcessedAt = nil

	if err := s.records.Create(ctx, tx, &insert); err != nil {
		return err
	}

	if err := s.records.ApplyOutcome(ctx, tx, record.OrderID, record.Status, record.ErrorMessage, processedAt); err != nil {
		return fmt.Errorf("apply processing outcome: %w", err)
	}

	if _, err := s.staging.Stage(ctx, tx, msg); err != nil {
		return fmt.Errorf("stage order.processed event: %w", err)
	}

	return nil
}

// GetRecord returns the processing record for an order.
func (s *Service) GetRecord(ctx context.Context, orderID string) (*Record, error) {
	if s == nil {
		return nil, ErrServiceRequired
	}

	return s.records.GetByOrderID(ctx, orderID)
}

func (s *Service) evaluate(event events.OrderCreated) string {
	if len(event.Items) == 0 {
		return "order has no items"
	}

	total := decimal.Zero

	for i, item := range event.Items {
		if item.Quantity <= 0 {
			return fmt.Sprintf("items[%d].quantity must be positive", i)
		}

		if !item.Price.IsPositive() {
			return fmt.Sprintf("items[%d].price must be positive", i)
		}

		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if !event.TotalAmount.IsPositive() {
		return "total_amount must be positive"
	}

	if !total.Equal(event.TotalAmount) {
		return fmt.Sprintf("total_amount %s does not match item total %s", event.TotalAmount, total)
	}

	if reason, fail := s.decider.ShouldFail(event); fail {
		return reason
	}

	return ""
}
