package payment

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"wekapay-settlement/pkg/errutil"
	"wekapay-settlement/pkg/middleware"
	"wekapay-settlement/pkg/momo"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func registerRoutes(router *gin.Engine, svc *Service) {
	authed := router.Group("/v1", middleware.Account())
	authed.POST("/purchases", svc.handlePurchase)
	authed.POST("/subscriptions/purchase", svc.handleSubscriptionPurchase)
	authed.GET("/payments/:id/status", svc.handlePaymentStatus)

	// The aggregator authenticates with a signature, not an account header.
	router.POST("/v1/webhooks/momo", svc.handleMomoWebhook)
}

type purchaseRequest struct {
	ContentID string `json:"content_id" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
}

type subscriptionPurchaseRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type intentResponse struct {
	ID            string     `json:"id"`
	Purpose       string     `json:"purpose"`
	ContentID     string     `json:"content_id,omitempty"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toIntentResponse(intent *PaymentIntent) intentResponse {
	return intentResponse{
		ID:            intent.ID,
		Purpose:       intent.Purpose,
		ContentID:     intent.ContentID,
		Amount:        intent.Amount,
		Status:        intent.Status,
		PaidAt:        intent.PaidAt,
		FailureReason: intent.FailureReason,
		CreatedAt:     intent.CreatedAt,
	}
}

func (s *Service) handlePurchase(c *gin.Context) {
	ctx := c.Request.Context()

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid purchase request", err))
		return
	}

	intent, err := s.InitiatePurchase(ctx, middleware.AccountID(ctx), req.ContentID, req.Phone)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, toIntentResponse(intent))
}

func (s *Service) handleSubscriptionPurchase(c *gin.Context) {
	ctx := c.Request.Context()

	var req subscriptionPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid subscription purchase request", err))
		return
	}

	intent, err := s.InitiateSubscriptionPurchase(ctx, middleware.AccountID(ctx), req.Phone)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, toIntentResponse(intent))
}

func (s *Service) handlePaymentStatus(c *gin.Context) {
	ctx := c.Request.Context()

	intent, err := s.PollStatus(ctx, middleware.AccountID(ctx), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, toIntentResponse(intent))
}

type momoWebhookPayload struct {
	Reference     string     `json:"reference"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	CompletedAt   *time.Time `json:"completed_at"`
	FailureReason string     `json:"failure_reason"`
}

func (s *Service) handleMomoWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(errutil.BadRequest("unreadable webhook body", err))
		return
	}

	// Verify before parsing. An unsigned body never reaches the decoder.
	if !s.gateway.VerifySignature(body, c.GetHeader("X-Momo-Signature")) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload momoWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.Error(errutil.BadRequest("malformed webhook payload", err))
		return
	}

	intent, err := s.FindByReference(ctx, payload.Reference)
	if err != nil {
		c.Error(err)
		return
	}

	if payload.Status == momo.StatusPaid && payload.Amount != intent.Amount {
		zap.L().Warn("webhook amount mismatch",
			zap.String("payment_intent_id", intent.ID),
			zap.Int64("intent_amount", intent.Amount),
			zap.Int64("webhook_amount", payload.Amount))
		c.Error(errutil.UnprocessableEntity("webhook amount does not match intent", nil))
		return
	}

	if _, err := s.Confirm(ctx, intent.ID, Evidence{
		Status:        payload.Status,
		CompletedAt:   payload.CompletedAt,
		FailureReason: payload.FailureReason,
	}); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
