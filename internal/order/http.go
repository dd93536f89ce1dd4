package order

import (
	"errors"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	"github.com/gofiber/fiber/v2"
)

// Handler exposes the order API over HTTP.
type Handler struct {
	svc    *Service
	logger log.Logger
}

// NewHandler creates the HTTP handler for the order API.
func NewHandler(svc *Service, logger log.Logger) (*Handler, error) {
	if svc == nil {
		return nil, ErrServiceRequired
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &Handler{svc: svc, logger: logger}, nil
}

// Register mounts the order routes on the fiber app.
func (h *Handler) Register(app *fiber.App) {
	v1 := app.Group("/v1")
	v1.Post("/orders", h.createOrder)
	v1.Get("/orders/:id", h.getOrder)
}

type createOrderRequest struct {
	CustomerID string `json:"customer_id"`
	Items      []Item `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) createOrder(c *fiber.Ctx) error {
	var req createOrderRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}

	order, err := h.svc.CreateOrder(c.UserContext(), req.CustomerID, req.Items)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: err.Error()})
		}

		h.logger.Log(c.UserContext(), log.LevelError, "create order failed", log.Err(err))

		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *Handler) getOrder(c *fiber.Ctx) error {
	order, err := h.svc.GetOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "order not found"})
		}

		if errors.Is(err, ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
		}

		h.logger.Log(c.UserContext(), log.LevelError, "get order failed", log.Err(err))

		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	return c.JSON(order)
}
