package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gwatamalou/orderprocessor/internal/events"
	"github.com/Gwatamalou/orderprocessor/internal/outbox"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
)

// Service errors.
var (
	ErrServiceRequired = errors.New("order service is required")
	ErrValidation      = errors.New("invalid order request")
)

const aggregateTypeOrder = "order"

// Service owns order intake and result application.
type Service struct {
	store   outbox.Store
	orders  Repository
	staging outbox.Repository
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

// NewService creates the order service.
func NewService(store outbox.Store, orders Repository, staging outbox.Repository, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, outbox.ErrStoreRequired
	}

	if orders == nil {
		return nil, ErrRepositoryRequired
	}

	if staging == nil {
		return nil, outbox.ErrRepositoryRequired
	}

	svc := &Service{
		store:   store,
		orders:  orders,
		staging: staging,
		logger:  log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	return svc, nil
}

// CreateOrder validates the request, then inserts the order row and stages
// its order.created event in one transaction. Either both are committed or
// neither is: a failed staging never leaves a phantom order, and a failed
// order insert never leaks a phantom event.
func (s *Service) CreateOrder(ctx context.Context, customerID string, items []Item) (*Order, error) {
	if err := validateCreate(customerID, items); err != nil {
		return nil, err
	}

	order := NewOrder(customerID, items)

	msg, err := outbox.NewMessage(order.ID, aggregateTypeOrder, events.TypeOrderCreated, order.CreatedEvent())
	if err != nil {
		return nil, fmt.Errorf("build order.created message: %w", err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create order transaction: %w", err)
	}

	if err := s.createInTx(ctx, tx, order, msg); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Log(ctx, log.LevelWarn, "failed to roll back create order transaction", log.Err(rbErr))
		}

		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create order transaction: %w", err)
	}

	s.logger.Log(ctx, log.LevelInfo, "order created",
		log.String("order_id", order.ID),
		log.String("customer_id", order.CustomerID),
		log.String("total_amount", order.TotalAmount.String()),
	)

	return order, nil
}

func (s *Service) createInTx(ctx context.Context, tx outbox.Tx, order *Order, msg *outbox.Message) error {
	if err := s.orders.Create(ctx, tx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	if _, err := s.staging.Stage(ctx, tx, msg); err != nil {
		return fmt.Errorf("stage order.created event: %w", err)
	}

	return nil
}

// GetOrder returns the order or ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	return s.orders.GetByID(ctx, id)
}

// ApplyProcessingResult overwrites the order's terminal state from an
// order.processed event. Unknown orders are logged and dropped; overwriting
// with the same terminal state is naturally idempotent.
func (s *Service) ApplyProcessingResult(ctx context.Context, event events.OrderProcessed) error {
	status := StatusCompleted
	if event.Status == events.OutcomeFailed {
		status = StatusFailed
	}

	found, err := s.orders.ApplyResult(ctx, event.OrderID, status, event.ErrorMessage)
	if err != nil {
		return fmt.Errorf("apply processing result: %w", err)
	}

	if !found {
		s.logger.Log(ctx, log.LevelWarn, "processing result for unknown order dropped",
			log.String("order_id", event.OrderID),
			log.String("status", event.Status),
		)

		return nil
	}

	s.logger.Log(ctx, log.LevelInfo, "order processing result applied",
		log.String("order_id", event.OrderID),
		log.String("status", event.Status),
	)

	return nil
}

func validateCreate(customerID string, items []Item) error {
	if customerID == "" {
		return fmt.Errorf("%w: customer_id is required", ErrValidation)
	}

	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}

	for i, item := range items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: items[%d].product_id is required", ErrValidation, i)
		}

		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}

		if !item.Price.IsPositive() {
			return fmt.Errorf("%w: items[%d].price must be positive", ErrValidation, i)
		}
	}

	return nil
}
