package payout

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"wekapay-settlement/pkg/errutil"
	"wekapay-settlement/pkg/middleware"

	"github.com/gin-gonic/gin"
)

func registerRoutes(router *gin.Engine, svc *Service) {
	authed := router.Group("/v1/withdrawals", middleware.Account(), middleware.RequireRole(middleware.RoleCreator))
	authed.POST("", svc.handleWithdraw)
	authed.GET("/:id", svc.handleGetWithdrawal)

	router.POST("/v1/webhooks/payout", svc.handlePayoutWebhook)
}

type withdrawRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Phone  string `json:"phone" binding:"required"`
}

type withdrawalResponse struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Service) handleWithdraw(c *gin.Context) {
	ctx := c.Request.Context()

	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid withdrawal request", err))
		return
	}

	result, err := s.InitiateWithdrawal(ctx, middleware.AccountID(ctx), req.Amount, req.Phone)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     result.TransactionID,
		"status": result.Status,
	})
}

func (s *Service) handleGetWithdrawal(c *gin.Context) {
	ctx := c.Request.Context()

	row, err := s.GetWithdrawal(ctx, middleware.AccountID(ctx), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, withdrawalResponse{
		ID:        row.ID,
		Status:    row.Status,
		Amount:    -row.Amount,
		CreatedAt: row.CreatedAt,
	})
}

type payoutWebhookPayload struct {
	Event         string `json:"event"`
	Reference     string `json:"reference"`
	FailureReason string `json:"failure_reason"`
}

func (s *Service) handlePayoutWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(errutil.BadRequest("unreadable webhook body", err))
		return
	}

	if !s.gateway.VerifySignature(body, c.GetHeader("X-Momo-Signature")) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload payoutWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.Error(errutil.BadRequest("malformed webhook payload", err))
		return
	}

	if err := s.HandleEvent(ctx, payload.Event, payload.Reference, payload.FailureReason); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
