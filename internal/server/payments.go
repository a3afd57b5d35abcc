package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
)

type checkoutRequest struct {
	accountParams
	Provider    string `json:"provider"`
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type refundRequest struct {
	Provider      string `json:"provider"`
	ProviderTxnID string `json:"provider_txn_id"`
	OrderID       string `json:"order_id"`
	AmountCents   int64  `json:"amount_cents"`
	Reason        string `json:"reason"`
}

func (s *Server) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	account, err := req.account()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.paymentSvc.Checkout(c.Request.Context(), paymentdomain.CheckoutRequest{
		Account:     account,
		Provider:    strings.ToLower(strings.TrimSpace(req.Provider)),
		OrderID:     strings.TrimSpace(req.OrderID),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.Refund(c.Request.Context(), paymentdomain.RefundRequest{
		Provider:      strings.ToLower(strings.TrimSpace(req.Provider)),
		ProviderTxnID: strings.TrimSpace(req.ProviderTxnID),
		OrderID:       strings.TrimSpace(req.OrderID),
		AmountCents:   req.AmountCents,
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) PaymentStatus(c *gin.Context) {
	resp, err := s.paymentSvc.Status(c.Request.Context(), paymentdomain.StatusRequest{
		Provider:      strings.ToLower(strings.TrimSpace(c.Query("provider"))),
		ProviderTxnID: strings.TrimSpace(c.Query("provider_txn_id")),
		OrderID:       strings.TrimSpace(c.Query("order_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
