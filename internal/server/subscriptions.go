package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
)

type createCustomerRequest struct {
	accountParams
	Name             string `json:"name"`
	Email            string `json:"email"`
	StripeCustomerID string `json:"stripe_customer_id"`
}

type createSubscriptionRequest struct {
	CustomerID           string `json:"customer_id"`
	PlanID               string `json:"plan_id"`
	StripeSubscriptionID string `json:"stripe_subscription_id"`
}

type updateSubscriptionStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	account, err := req.account()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	customer, err := s.subscriptionSvc.CreateCustomer(c.Request.Context(), subscriptiondomain.CreateCustomerRequest{
		Account:          account,
		Name:             req.Name,
		Email:            req.Email,
		StripeCustomerID: req.StripeCustomerID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
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

	sub, err := s.subscriptionSvc.CreateSubscription(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:           customerID,
		PlanID:               planID,
		StripeSubscriptionID: strings.TrimSpace(req.StripeSubscriptionID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	req := subscriptiondomain.ListSubscriptionsRequest{
		Status: subscriptiondomain.Status(strings.ToLower(strings.TrimSpace(c.Query("status")))),
	}
	if raw := c.Query("customer_id"); raw != "" {
		id, err := parseSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, subscriptiondomain.ErrInvalidCustomer)
			return
		}
		req.CustomerID = &id
	}
	if raw := c.Query("plan_id"); raw != "" {
		id, err := parseSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, subscriptiondomain.ErrInvalidPlan)
			return
		}
		req.PlanID = &id
	}
	var err error
	if req.Limit, err = parseOptionalInt(c.Query("limit"), 0); err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	if req.Offset, err = parseOptionalInt(c.Query("offset"), 0); err != nil {
		AbortWithError(c, newValidationError("offset", "invalid_offset", "invalid offset"))
		return
	}

	subs, err := s.subscriptionSvc.ListSubscriptions(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subs})
}

func (s *Server) GetSubscription(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
		return
	}
	sub, err := s.subscriptionSvc.GetSubscription(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) UpdateSubscriptionStatus(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
		return
	}
	var req updateSubscriptionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.UpdateStatus(c.Request.Context(), id, subscriptiondomain.Status(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
