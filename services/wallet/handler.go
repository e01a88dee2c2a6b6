package wallet

import (
	"net/http"

	"wekapay-settlement/pkg/middleware"

	"github.com/gin-gonic/gin"
)

func registerRoutes(router *gin.Engine, svc *Service) {
	group := router.Group("/v1/wallet", middleware.Account())
	group.GET("/onchain", svc.handleOnchainBalance)
}

type onchainResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

func (s *Service) handleOnchainBalance(c *gin.Context) {
	ctx := c.Request.Context()

	balance, err := s.OnchainBalance(ctx, middleware.AccountID(ctx))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, onchainResponse{
		Address: balance.Address,
		Balance: balance.BalanceMinorUnits,
	})
}
