package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/meterguard/internal/invoice/domain"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
)

type ensureStripeSubscriptionRequest struct {
	CustomerID    string `json:"customer_id"`
	PlanID        string `json:"plan_id"`
	StripePriceID string `json:"stripe_price_id"`
}

type createPriceMappingRequest struct {
	PlanID        string `json:"plan_id"`
	StripePriceID string `json:"stripe_price_id"`
	Currency      string `json:"currency"`
	Active        *bool  `json:"active"`
}

type updatePriceMappingRequest struct {
	StripePriceID *string `json:"stripe_price_id"`
	Currency      *string `json:"currency"`
	Active        *bool   `json:"active"`
}

func (s *Server) EnsureStripeCustomer(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrCustomerNotFound)
		return
	}
	stripeID, err := s.subscriptionSvc.EnsureStripeCustomer(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer_id": id.String(), "stripe_customer_id": stripeID})
}

func (s *Server) EnsureStripeSubscription(c *gin.Context) {
	var req ensureStripeSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	customerID, err := parseSnowflakeID(req.CustomerID)
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrInvalidCustomer)
		return
	}
	planID, err := parseSnowflakeID(req.PlanID)
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrInvalidPlan)
		return
	}

	sub, err := s.subscriptionSvc.EnsureStripeSubscription(c.Request.Context(), subscriptiondomain.EnsureStripeSubscriptionRequest{
		CustomerID:    customerID,
		PlanID:        planID,
		StripePriceID: req.StripePriceID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) PushInvoiceToStripe(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, invoicedomain.ErrInvoiceNotFound)
		return
	}
	invoice, err := s.invoiceSvc.PushToStripe(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) ListPriceMappings(c *gin.Context) {
	var planID *snowflake.ID
	if raw := c.Query("plan_id"); raw != "" {
		id, err := parseSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, subscriptiondomain.ErrInvalidPlan)
			return
		}
		planID = &id
	}
	mappings, err := s.subscriptionSvc.ListPriceMappings(c.Request.Context(), planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": mappings})
}

func (s *Server) CreatePriceMapping(c *gin.Context) {
	var req createPriceMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID, err := parseSnowflakeID(req.PlanID)
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrInvalidPlan)
		return
	}

	mapping, err := s.subscriptionSvc.CreatePriceMapping(c.Request.Context(), subscriptiondomain.CreatePriceMappingRequest{
		PlanID:        planID,
		StripePriceID: req.StripePriceID,
		Currency:      req.Currency,
		Active:        req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mapping)
}

func (s *Server) UpdatePriceMapping(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrPriceMappingNotFound)
		return
	}
	var req updatePriceMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mapping, err := s.subscriptionSvc.UpdatePriceMapping(c.Request.Context(), subscriptiondomain.UpdatePriceMappingRequest{
		ID:            id,
		StripePriceID: req.StripePriceID,
		Currency:      req.Currency,
		Active:        req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapping)
}

func (s *Server) DeletePriceMapping(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrPriceMappingNotFound)
		return
	}
	if err := s.subscriptionSvc.DeletePriceMapping(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
