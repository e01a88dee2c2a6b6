package subscription

import (
	"net/http"
	"time"

	"wekapay-settlement/pkg/middleware"

	"github.com/gin-gonic/gin"
)

func registerRoutes(router *gin.Engine, svc *Service) {
	group := router.Group("/v1/subscriptions", middleware.Account())
	group.POST("/trial", svc.handleActivateTrial)
	group.GET("/me", svc.handleStatus)
}

type subscriptionResponse struct {
	State       State      `json:"state"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	GraceEndsAt *time.Time `json:"grace_ends_at,omitempty"`
	TrialUsed   bool       `json:"trial_used"`
	HasAccess   bool       `json:"has_access"`
}

func (s *Service) handleActivateTrial(c *gin.Context) {
	ctx := c.Request.Context()

	sub, err := s.ActivateTrial(ctx, middleware.AccountID(ctx))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, subscriptionResponse{
		State:       StateTrial,
		ExpiresAt:   &sub.ExpiresAt,
		GraceEndsAt: &sub.GraceEndsAt,
		TrialUsed:   sub.TrialUsed,
		HasAccess:   true,
	})
}

func (s *Service) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := middleware.AccountID(ctx)

	state, sub, err := s.Status(ctx, accountID)
	if err != nil {
		c.Error(err)
		return
	}

	access, err := s.HasAccess(ctx, accountID, middleware.Role(ctx))
	if err != nil {
		c.Error(err)
		return
	}

	resp := subscriptionResponse{State: state, HasAccess: access}
	if sub != nil {
		resp.ExpiresAt = &sub.ExpiresAt
		resp.GraceEndsAt = &sub.GraceEndsAt
		resp.TrialUsed = sub.TrialUsed
	}

	c.JSON(http.StatusOK, resp)
}
