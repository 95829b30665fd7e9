package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/domain"
	"github.com/paymenttech/payment-processor/internal/service/lifecycle"
)

// Handler — HTTP-адаптер поверх движка жизненного цикла платежей.
type Handler struct {
	engine *lifecycle.Engine
	logger *log.Entry
}

// NewHandler создаёт HTTP-обработчик платежей.
func NewHandler(engine *lifecycle.Engine) (*Handler, error) {
	if engine == nil {
		return nil, fmt.Errorf("http handler requires a lifecycle engine")
	}
	return &Handler{
		engine: engine,
		logger: log.WithField("component", "http_api"),
	}, nil
}

// Register вешает маршруты платёжного API на echo-роутер.
func (h *Handler) Register(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.POST("/payments", h.SubmitPayment)
	api.GET("/payments/:transactionId", h.GetPayment)
	api.POST("/payments/:transactionId/cancel", h.CancelPayment)
	api.POST("/payments/:transactionId/reopen", h.ReopenPayment)
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// SubmitPayment принимает платёж в асинхронную обработку.
// Допуск подтверждается кодом 202: обработка произойдёт позже, через
// event-канал. Повтор известного idempotency-key возвращает сохранённый
// ответ с тем же кодом.
func (h *Handler) SubmitPayment(c echo.Context) error {
	var req domain.PaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}

	resp, err := h.engine.Admit(req)
	if err != nil {
		var verr *lifecycle.ValidationError
		if errors.As(err, &verr) {
			details := make([]string, 0, len(verr.Reasons))
			for _, reason := range verr.Reasons {
				details = append(details, reason.Error())
			}
			return c.JSON(http.StatusBadRequest, errorResponse{
				Error:   "invalid payment request",
				Details: details,
			})
		}
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return c.JSON(http.StatusConflict, errorResponse{Error: "idempotency key already in use"})
		}
		h.logger.WithError(err).Error("Не удалось принять платёж")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to admit payment"})
	}

	return c.JSON(http.StatusAccepted, resp)
}

// GetPayment возвращает текущее состояние платежа по транзакционному ID.
func (h *Handler) GetPayment(c echo.Context) error {
	transactionID := c.Param("transactionId")

	resp, err := h.engine.Status(transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "payment not found"})
		}
		h.logger.WithError(err).WithField("transaction_id", transactionID).
			Error("Не удалось прочитать платёж")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load payment"})
	}

	return c.JSON(http.StatusOK, resp)
}

// CancelPayment — операторская отмена платежа до завершения цикла.
func (h *Handler) CancelPayment(c echo.Context) error {
	transactionID := c.Param("transactionId")

	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	if err := h.engine.Cancel(transactionID, req.Reason); err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "payment not found"})
		case errors.Is(err, domain.ErrStatusTransition):
			return c.JSON(http.StatusConflict, errorResponse{Error: "payment already finished"})
		default:
			h.logger.WithError(err).WithField("transaction_id", transactionID).
				Error("Не удалось отменить платёж")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to cancel payment"})
		}
	}

	resp, err := h.engine.Status(transactionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load payment"})
	}
	return c.JSON(http.StatusOK, resp)
}

// ReopenPayment — операторское переоткрытие платежа, эскалированного
// в dead-letter: новый бюджет повторов и свежее событие в основном потоке.
func (h *Handler) ReopenPayment(c echo.Context) error {
	transactionID := c.Param("transactionId")

	if err := h.engine.Reopen(transactionID); err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "payment not found"})
		case errors.Is(err, domain.ErrStatusTransition):
			return c.JSON(http.StatusConflict, errorResponse{Error: "payment is not in failed state"})
		default:
			h.logger.WithError(err).WithField("transaction_id", transactionID).
				Error("Не удалось переоткрыть платёж")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to reopen payment"})
		}
	}

	resp, err := h.engine.Status(transactionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load payment"})
	}
	return c.JSON(http.StatusOK, resp)
}
