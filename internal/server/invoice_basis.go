package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicebasisdomain "github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	invoicebasisservice "github.com/smallbiznis/bygglogg/internal/invoicebasis/service"
	obscontext "github.com/smallbiznis/bygglogg/internal/observability/context"
	"go.uber.org/zap"
)

type invoiceBasisPeriodRequest struct {
	ProjectID   string `json:"project_id" form:"project_id"`
	PeriodStart string `json:"period_start" form:"period_start"`
	PeriodEnd   string `json:"period_end" form:"period_end"`
}

type lockInvoiceBasisRequest struct {
	invoiceBasisPeriodRequest
	LockedBy string `json:"locked_by"`
}

type approvalItemRequest struct {
	ProjectID string `json:"project_id"`
	Date      string `json:"date"`
}

type approvalsRequest struct {
	Items []approvalItemRequest `json:"items"`
}

type totalsPreviewRequest struct {
	Currency string                    `json:"currency"`
	Lines    []invoicebasisdomain.Line `json:"lines"`
}

func parseProjectID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, invoicebasisdomain.ErrInvalidProject
	}
	return id, nil
}

func (s *Server) RefreshInvoiceBasis(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req invoiceBasisPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("project_id", projectID.String())

	resp, err := s.invoiceBasisSvc.Refresh(c.Request.Context(), orgID, projectID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RefreshInvoiceBasisForApprovals accepts the batch and refreshes in the
// background. The response never reflects refresh failures.
func (s *Server) RefreshInvoiceBasisForApprovals(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req approvalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items := make([]invoicebasisdomain.ApprovalItem, 0, len(req.Items))
	for _, item := range req.Items {
		// Unparseable project ids are kept as zero and logged by the scheduler.
		projectID, _ := snowflake.ParseString(strings.TrimSpace(item.ProjectID))
		items = append(items, invoicebasisdomain.ApprovalItem{ProjectID: projectID, Date: item.Date})
	}

	ctx := context.WithoutCancel(c.Request.Context())
	s.background(func() {
		s.invoiceBasisSvc.RefreshForApprovals(ctx, orgID, items)
	})

	s.log.Debug("invoicebasis.approvals.accepted", zap.String("org_id", orgID.String()), zap.Int("items", len(items)))
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"accepted": len(items)}})
}

func (s *Server) GetInvoiceBasis(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query invoiceBasisPeriodRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	projectID, err := parseProjectID(query.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceBasisSvc.Get(c.Request.Context(), orgID, projectID, query.PeriodStart, query.PeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) LockInvoiceBasis(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req lockInvoiceBasisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := obscontext.WithActor(c.Request.Context(), strings.TrimSpace(req.LockedBy))
	resp, err := s.invoiceBasisSvc.Lock(ctx, orgID, projectID, req.PeriodStart, req.PeriodEnd, req.LockedBy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// PreviewInvoiceBasisTotals computes totals for caller-supplied lines without
// touching storage.
func (s *Server) PreviewInvoiceBasisTotals(c *gin.Context) {
	var req totalsPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(s.cfg.InvoiceBasis.DefaultCurrency))
	}
	if currency == "" {
		currency = "SEK"
	}

	s.metrics.RecordTotalsPreview(c.Request.Context(), len(req.Lines))
	c.JSON(http.StatusOK, gin.H{"data": invoicebasisservice.ComputeTotals(req.Lines, currency)})
}
