package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/meterguard/internal/invoice/domain"
	"github.com/smallbiznis/meterguard/pkg/db/pagination"
)

type generateInvoiceRequest struct {
	accountParams
	CustomerID string `json:"customer_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	// Day generates for one quota window instead of Start/End.
	Day      string `json:"day"`
	Currency string `json:"currency"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	account, err := req.account()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if strings.TrimSpace(req.Day) != "" {
		day, err := parseDate(req.Day)
		if err != nil {
			AbortWithError(c, newValidationError("day", "invalid_day", "day must be YYYY-MM-DD"))
			return
		}
		invoice, err := s.invoiceSvc.GenerateForDay(ctx, account, day)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, invoice)
		return
	}

	start, err := parseDate(req.Start)
	if err != nil {
		AbortWithError(c, newValidationError("start", "invalid_start", "start must be a date"))
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		AbortWithError(c, newValidationError("end", "invalid_end", "end must be a date"))
		return
	}
	genReq := invoicedomain.GenerateRequest{
		Account:  account,
		Start:    start,
		End:      end,
		Currency: req.Currency,
	}
	if strings.TrimSpace(req.CustomerID) != "" {
		customerID, err := parseSnowflakeID(req.CustomerID)
		if err != nil {
			AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer id"))
			return
		}
		genReq.CustomerID = &customerID
	}

	invoice, err := s.invoiceSvc.Generate(ctx, genReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

func (s *Server) ListInvoices(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	limit := page.Limit()
	req := invoicedomain.ListRequest{
		Status: invoicedomain.Status(strings.TrimSpace(c.Query("status"))),
		Limit:  limit + 1,
	}
	if c.Query("entity_type") != "" || c.Query("entity_id") != "" {
		account, err := accountParams{EntityType: c.Query("entity_type"), EntityID: c.Query("entity_id")}.account()
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Account = &account
	}
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page token"))
		return
	}
	if cursor != nil {
		before, err := parseSnowflakeID(cursor.ID)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page token"))
			return
		}
		req.BeforeID = &before
	}

	invoices, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	invoices, pageInfo := pagination.Trim(invoices, limit, func(inv invoicedomain.Invoice) string {
		return inv.ID.String()
	})
	c.JSON(http.StatusOK, gin.H{"data": invoices, "page_info": pageInfo})
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	invoice, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) RenderInvoicePDF(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	pdf, err := s.invoiceSvc.RenderPDF(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=invoice-%s.pdf", id.String()))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
