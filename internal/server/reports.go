package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
)

const defaultReportDays = 7

func (s *Server) DailyReport(c *gin.Context) {
	account, days, ok := reportQuery(c)
	if !ok {
		return
	}
	totals, err := s.reportSvc.DailyTotals(c.Request.Context(), account, days, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": totals})
}

func (s *Server) SummaryReport(c *gin.Context) {
	account, days, ok := reportQuery(c)
	if !ok {
		return
	}
	summary, err := s.reportSvc.Summary(c.Request.Context(), account, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) ListOverdrafts(c *gin.Context) {
	var params accountParams
	if err := c.ShouldBindQuery(&params); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	account, err := params.account()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"), 50)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	alerts, err := s.reportSvc.Overdrafts(c.Request.Context(), account, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

func reportQuery(c *gin.Context) (accountdomain.Account, int, bool) {
	var params accountParams
	if err := c.ShouldBindQuery(&params); err != nil {
		AbortWithError(c, invalidRequestError())
		return accountdomain.Account{}, 0, false
	}
	account, err := params.account()
	if err != nil {
		AbortWithError(c, err)
		return accountdomain.Account{}, 0, false
	}
	days, err := parseOptionalInt(c.Query("days"), defaultReportDays)
	if err != nil {
		AbortWithError(c, newValidationError("days", "invalid_days", "days must be an integer"))
		return accountdomain.Account{}, 0, false
	}
	return account, days, true
}
