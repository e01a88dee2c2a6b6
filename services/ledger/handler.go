package ledger

import (
	"net/http"
	"time"

	"wekapay-settlement/pkg/middleware"

	"github.com/gin-gonic/gin"
)

func registerRoutes(router *gin.Engine, svc *Service) {
	group := router.Group("/v1/wallet", middleware.Account())
	group.GET("", svc.handleGetWallet)
}

type walletResponse struct {
	CreatorID      string                `json:"creator_id"`
	Balance        int64                 `json:"balance"`
	TotalEarned    int64                 `json:"total_earned"`
	TotalWithdrawn int64                 `json:"total_withdrawn"`
	TotalFees      int64                 `json:"total_fees"`
	Transactions   []transactionResponse `json:"transactions"`
}

type transactionResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Service) handleGetWallet(c *gin.Context) {
	ctx := c.Request.Context()
	creatorID := middleware.AccountID(ctx)

	wallet, err := s.GetWallet(ctx, creatorID)
	if err != nil {
		c.Error(err)
		return
	}

	rows, err := s.ListTransactions(ctx, creatorID, 50)
	if err != nil {
		c.Error(err)
		return
	}

	resp := walletResponse{
		CreatorID:      wallet.CreatorID,
		Balance:        wallet.Balance,
		TotalEarned:    wallet.TotalEarned,
		TotalWithdrawn: wallet.TotalWithdrawn,
		TotalFees:      wallet.TotalFees,
		Transactions:   make([]transactionResponse, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Transactions = append(resp.Transactions, transactionResponse{
			ID:           row.ID,
			Type:         row.Type,
			Status:       row.Status,
			Amount:       row.Amount,
			BalanceAfter: row.BalanceAfter,
			Description:  row.Description,
			CreatedAt:    row.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, resp)
}
