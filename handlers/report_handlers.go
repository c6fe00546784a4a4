package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"umamicore/api/access"
	"umamicore/api/middleware"
	"umamicore/api/models"
	"umamicore/api/stats"
	"umamicore/api/store"
)

type ReportHandlers struct {
	Reports *store.ReportStore
	Engine  *stats.Engine
	Guard   *access.Guard
	log     *zap.Logger
}

func NewReportHandlers(reports *store.ReportStore, engine *stats.Engine, guard *access.Guard, log *zap.Logger) *ReportHandlers {
	return &ReportHandlers{Reports: reports, Engine: engine, Guard: guard, log: log}
}

func (h *ReportHandlers) CreateReport(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermManage)
	if !ok {
		return
	}
	var req models.SaveReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if _, err := stats.ParseParams(req.Parameters); err != nil {
		respondError(c, h.log, err)
		return
	}
	r := models.Report{
		UserID:      middleware.Principal(c).UserID,
		WebsiteID:   scope.WebsiteID(),
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		Parameters:  req.Parameters,
	}
	if err := h.Reports.CreateReport(c.Request.Context(), scope.WebsiteID(), &r); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *ReportHandlers) ListReports(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermView)
	if !ok {
		return
	}
	reports, err := h.Reports.ListReports(c.Request.Context(), scope.WebsiteID())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reports, "count": len(reports)})
}

// GetReport looks a report up by id alone and then checks the caller may
// view the website it belongs to.
func (h *ReportHandlers) GetReport(c *gin.Context) {
	reportID, ok := pathID(c, "reportId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	r, err := h.Reports.FindReport(ctx, reportID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if _, err := h.Guard.Authorize(ctx, middleware.Principal(c), r.WebsiteID, access.PermView); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReportHandlers) UpdateReport(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermManage)
	if !ok {
		return
	}
	reportID, ok := pathID(c, "reportId")
	if !ok {
		return
	}
	var req models.SaveReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if _, err := stats.ParseParams(req.Parameters); err != nil {
		respondError(c, h.log, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.Reports.UpdateReport(ctx, scope.WebsiteID(), reportID, req.Name, req.Description, req.Parameters); err != nil {
		respondError(c, h.log, err)
		return
	}
	r, err := h.Reports.GetReport(ctx, scope.WebsiteID(), reportID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReportHandlers) DeleteReport(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermManage)
	if !ok {
		return
	}
	reportID, ok := pathID(c, "reportId")
	if !ok {
		return
	}
	if err := h.Reports.DeleteReport(c.Request.Context(), scope.WebsiteID(), reportID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RunReport evaluates a saved report, optionally narrowed by ?segment=.
func (h *ReportHandlers) RunReport(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermView)
	if !ok {
		return
	}
	reportID, ok := pathID(c, "reportId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	r, err := h.Reports.GetReport(ctx, scope.WebsiteID(), reportID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	var seg *models.Segment
	if v := c.Query("segment"); v != "" {
		segmentID, err := uuid.Parse(v)
		if err != nil {
			badRequest(c, "Invalid segment", err)
			return
		}
		if seg, err = h.Reports.GetSegment(ctx, scope.WebsiteID(), segmentID); err != nil {
			respondError(c, h.log, err)
			return
		}
	}

	asOf, ok, err := parseInstant(c, "asOf", "asOfDate")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !ok {
		asOf = h.Engine.Now()
	}
	result, err := h.Engine.Evaluate(ctx, scope, r, seg, asOf)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ReportHandlers) CreateSegment(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermManage)
	if !ok {
		return
	}
	var req models.SaveSegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if _, err := stats.ParseSegment(req.Parameters); err != nil {
		respondError(c, h.log, err)
		return
	}
	seg := models.Segment{
		WebsiteID:  scope.WebsiteID(),
		Type:       req.Type,
		Name:       req.Name,
		Parameters: req.Parameters,
	}
	if seg.Type == "" {
		seg.Type = "segment"
	}
	if err := h.Reports.CreateSegment(c.Request.Context(), scope.WebsiteID(), &seg); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, seg)
}

func (h *ReportHandlers) ListSegments(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermView)
	if !ok {
		return
	}
	segs, err := h.Reports.ListSegments(c.Request.Context(), scope.WebsiteID())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": segs, "count": len(segs)})
}

func (h *ReportHandlers) DeleteSegment(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermManage)
	if !ok {
		return
	}
	segmentID, ok := pathID(c, "segmentId")
	if !ok {
		return
	}
	if err := h.Reports.DeleteSegment(c.Request.Context(), scope.WebsiteID(), segmentID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
