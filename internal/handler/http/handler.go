package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	_ "github.com/dailylift/dailylift/docs"
	"github.com/dailylift/dailylift/internal/domain"
	"github.com/dailylift/dailylift/internal/normalizer"
	"github.com/dailylift/dailylift/internal/schedule"
	"github.com/dailylift/dailylift/internal/service"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Handler struct {
	subscriptions *service.SubscriptionService
	calculator    *schedule.Calculator
	engine        service.DeliveryEngine
	normalizer    *normalizer.Normalizer
	machine       service.EventApplier
	cryptoSecret  string
	server        *http.Server
}

// @title DailyLift API
// @version 1.0
// @description Subscription onboarding, payment webhooks and scheduled SMS delivery
// @host localhost:6060
// @BasePath /
func NewHttpHandler(
	addr string,
	subscriptions *service.SubscriptionService,
	calculator *schedule.Calculator,
	engine service.DeliveryEngine,
	n *normalizer.Normalizer,
	machine service.EventApplier,
	cryptoSecret string,
) *Handler {
	h := &Handler{
		subscriptions: subscriptions,
		calculator:    calculator,
		engine:        engine,
		normalizer:    n,
		machine:       machine,
		cryptoSecret:  cryptoSecret,
	}

	// create router
	router := gin.Default()

	// register routes
	router.POST("/api/subscribe", h.subscribe)
	router.GET("/api/subscribers", h.getSubscribers)
	router.GET("/api/subscribers/:id", h.getSubscriber)
	router.DELETE("/api/subscribers/:id", h.purgeSubscriber)
	router.GET("/api/subscribers/:id/messages", h.getSubscriberMessages)
	router.POST("/api/subscribers/:id/messages", h.scheduleOneOff)
	router.POST("/api/subscribers/:id/bind", h.bindProvider)

	router.POST("/api/webhooks/card", h.webhook(domain.ProviderCard))
	router.POST("/api/webhooks/agreement", h.webhook(domain.ProviderAgreement))
	router.POST("/api/webhooks/crypto", h.webhook(domain.ProviderCrypto))

	router.POST("/api/deposits", h.requestDeposit)
	router.GET("/api/deposits", h.getPendingDeposits)
	router.POST("/api/deposits/:id/approve", h.approveDeposit)
	router.POST("/api/deposits/:id/reject", h.rejectDeposit)

	router.POST("/api/groups/:id/schedule", h.scheduleGroupSlot)
	router.POST("/api/groups/:id/schedule-day", h.scheduleGroupDay)

	router.GET("/api/stats", h.getStats)
	router.GET("/api/messages/failed", h.getFailedMessages)

	router.POST("/start", h.startEngine)
	router.POST("/stop", h.stopEngine)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// create http server
	h.server = &http.Server{
		Addr:    addr,
		Handler: router.Handler(),
	}

	return h
}

func (h *Handler) Run() error {
	return h.server.ListenAndServe()
}

func (h *Handler) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// Subscribe godoc
// @Summary Onboard a new subscriber
// @Description Creates a subscriber in pending state awaiting payment activation
// @Tags Subscribers
// @Accept json
// @Success 201 {object} domain.Subscriber
// @Router /api/subscribe [post]
func (h *Handler) subscribe(c *gin.Context) {
	var in service.CreateSubscriberInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.subscriptions.CreateSubscriber(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetSubscribers godoc
// @Summary List all subscribers
// @Tags Subscribers
// @Success 200 {array} domain.Subscriber
// @Router /api/subscribers [get]
func (h *Handler) getSubscribers(c *gin.Context) {
	subs, err := h.subscriptions.Subscribers(c.Request.Context())
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, subs)
}

// GetSubscriber godoc
// @Summary Get one subscriber with current subscription status
// @Tags Subscribers
// @Success 200 {object} domain.Subscriber
// @Router /api/subscribers/{id} [get]
func (h *Handler) getSubscriber(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sub, err := h.subscriptions.Subscriber(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// PurgeSubscriber godoc
// @Summary Hard-delete a subscriber and their scheduled messages
// @Tags Subscribers
// @Success 204
// @Router /api/subscribers/{id} [delete]
func (h *Handler) purgeSubscriber(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.subscriptions.Purge(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSubscriberMessages godoc
// @Summary List a subscriber's scheduled messages
// @Tags Messages
// @Success 200 {array} domain.ScheduledMessage
// @Router /api/subscribers/{id}/messages [get]
func (h *Handler) getSubscriberMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msgs, err := h.subscriptions.MessagesFor(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// ScheduleOneOff godoc
// @Summary Schedule a one-off message for a subscriber
// @Description Admin action that bypasses the group calculator
// @Tags Messages
// @Accept json
// @Success 201 {object} domain.ScheduledMessage
// @Router /api/subscribers/{id}/messages [post]
func (h *Handler) scheduleOneOff(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Body        string    `json:"body"`
		ImageURL    string    `json:"image_url"`
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.subscriptions.EnqueueOneOff(c.Request.Context(), id, req.Body, req.ImageURL, req.ScheduledAt)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// BindProvider godoc
// @Summary Attach a payment provider binding to a subscriber
// @Tags Subscribers
// @Accept json
// @Success 200 {object} domain.Subscriber
// @Router /api/subscribers/{id}/bind [post]
func (h *Handler) bindProvider(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Provider domain.PaymentProvider `json:"provider"`
		Ref      string                 `json:"ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.subscriptions.BindProvider(c.Request.Context(), id, req.Provider, req.Ref)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Webhook godoc
// @Summary Receive a payment provider webhook
// @Description Always acknowledges with a definite outcome (applied, duplicate, conflict, malformed, ignored) so providers never retry-storm
// @Tags Webhooks
// @Accept json
// @Success 200
// @Router /api/webhooks/{provider} [post]
func (h *Handler) webhook(provider domain.PaymentProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"outcome": "malformed"})
			return
		}

		if provider == domain.ProviderCrypto {
			sig := c.GetHeader("X-CC-Webhook-Signature")
			if !normalizer.VerifyCryptoSignature(payload, sig, h.cryptoSecret) {
				c.JSON(http.StatusOK, gin.H{"outcome": "malformed", "error": "invalid signature"})
				return
			}
		}

		ev, err := h.normalizer.Handle(c.Request.Context(), provider, payload, c.GetHeader("X-Delivery-Id"))
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"outcome": "malformed"})
			return
		}
		if ev == nil {
			// Recognized notification that carries no lifecycle signal.
			c.JSON(http.StatusOK, gin.H{"outcome": "ignored"})
			return
		}

		outcome, err := h.machine.Apply(c.Request.Context(), ev)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"outcome": string(outcome.Result),
			"status":  string(outcome.Status),
		})
	}
}

// RequestDeposit godoc
// @Summary Open a manual crypto payment awaiting admin verification
// @Tags Deposits
// @Accept json
// @Success 201 {object} domain.PendingDeposit
// @Router /api/deposits [post]
func (h *Handler) requestDeposit(c *gin.Context) {
	var req struct {
		SubscriberID    uint    `json:"subscriber_id"`
		Currency        string  `json:"currency"`
		Amount          float64 `json:"amount"`
		TransactionHash string  `json:"transaction_hash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dep, err := h.subscriptions.RequestDeposit(c.Request.Context(), req.SubscriberID, req.Currency, req.Amount, req.TransactionHash)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"deposit":      dep,
		"instructions": "Send the exact amount to the wallet address. Payment is verified by an admin.",
	})
}

// GetPendingDeposits godoc
// @Summary List manual crypto payments awaiting review
// @Tags Deposits
// @Success 200 {array} domain.PendingDeposit
// @Router /api/deposits [get]
func (h *Handler) getPendingDeposits(c *gin.Context) {
	deps, err := h.subscriptions.PendingDeposits(c.Request.Context())
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, deps)
}

// ApproveDeposit godoc
// @Summary Verify and approve a manual crypto payment
// @Description The transaction reference must match the deposit's expected amount and currency; a mismatch activates nobody
// @Tags Deposits
// @Accept json
// @Success 200
// @Router /api/deposits/{id}/approve [post]
func (h *Handler) approveDeposit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		TransactionHash string  `json:"transaction_hash"`
		Currency        string  `json:"currency"`
		Amount          float64 `json:"amount"`
		ReviewedBy      string  `json:"reviewed_by"`
		ActionID        string  `json:"action_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.subscriptions.ApproveDeposit(c.Request.Context(), id, req.TransactionHash, req.Currency, req.Amount, req.ReviewedBy, req.ActionID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrDepositNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": string(outcome.Result),
		"status":  string(outcome.Status),
	})
}

// RejectDeposit godoc
// @Summary Reject a manual crypto payment
// @Tags Deposits
// @Accept json
// @Success 200
// @Router /api/deposits/{id}/reject [post]
func (h *Handler) rejectDeposit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Notes      string `json:"notes"`
		ReviewedBy string `json:"reviewed_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.subscriptions.RejectDeposit(c.Request.Context(), id, req.Notes, req.ReviewedBy); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrDepositNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// ScheduleGroupSlot godoc
// @Summary Enqueue a group slot's message for all eligible subscribers
// @Tags Schedule
// @Accept json
// @Success 200 {object} schedule.Result
// @Router /api/groups/{id}/schedule [post]
func (h *Handler) scheduleGroupSlot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Slot string `json:"slot"`
		Date string `json:"date"`
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	date, ok := parseDate(c, req.Date)
	if !ok {
		return
	}

	res, err := h.calculator.ComputeSchedule(c.Request.Context(), id, req.Slot, date, req.Body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrGroupNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ScheduleGroupDay godoc
// @Summary Enqueue all of a group's slots for one calendar date
// @Tags Schedule
// @Accept json
// @Success 200
// @Router /api/groups/{id}/schedule-day [post]
func (h *Handler) scheduleGroupDay(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Date string `json:"date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	date, ok := parseDate(c, req.Date)
	if !ok {
		return
	}

	results, err := h.calculator.ComputeDailySchedule(c.Request.Context(), id, date)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrGroupNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, results)
}

// GetStats godoc
// @Summary Aggregate subscriber and message counts for reporting
// @Tags Stats
// @Success 200 {object} service.Stats
// @Router /api/stats [get]
func (h *Handler) getStats(c *gin.Context) {
	stats, err := h.subscriptions.Stats(c.Request.Context())
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetFailedMessages godoc
// @Summary List permanently failed deliveries for operator review
// @Tags Messages
// @Success 200 {array} domain.ScheduledMessage
// @Router /api/messages/failed [get]
func (h *Handler) getFailedMessages(c *gin.Context) {
	msgs, err := h.subscriptions.FailedMessages(c.Request.Context())
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// StartEngine godoc
// @Summary Start the delivery poller
// @Tags Control
// @Success 200
// @Router /start [post]
func (h *Handler) startEngine(c *gin.Context) {
	h.engine.Start()
	c.Status(http.StatusOK)
}

// StopEngine godoc
// @Summary Stop the delivery poller
// @Description Blocks until the in-flight cycle completes
// @Tags Control
// @Success 200
// @Router /stop [post]
func (h *Handler) stopEngine(c *gin.Context) {
	h.engine.Stop()
	c.Status(http.StatusOK)
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func parseDate(c *gin.Context, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Now().UTC(), true
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return date, true
}
