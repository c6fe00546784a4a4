package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"umamicore/api/access"
	"umamicore/api/models"
	"umamicore/api/stats"
	"umamicore/api/store"
	"umamicore/api/utils"
)

type eventCounter interface {
	EventCountsOverTime(ctx context.Context, websiteID uuid.UUID, unit string, start, end time.Time, eventName string) ([]models.EventCount, error)
}

type StatsHandlers struct {
	Engine     *stats.Engine
	Guard      *access.Guard
	Attributes *store.AttributeStore
	Events     *store.EventStore
	Sessions   *store.SessionStore
	// Analytics is nil when the ClickHouse mirror is disabled.
	Analytics eventCounter
	now       func() time.Time
	log       *zap.Logger
}

func NewStatsHandlers(engine *stats.Engine, guard *access.Guard, attrs *store.AttributeStore, events *store.EventStore, sessions *store.SessionStore, analytics *store.AnalyticsStore, log *zap.Logger) *StatsHandlers {
	h := &StatsHandlers{
		Engine:     engine,
		Guard:      guard,
		Attributes: attrs,
		Events:     events,
		Sessions:   sessions,
		now:        time.Now,
		log:        log,
	}
	if analytics != nil {
		h.Analytics = analytics
	}
	return h
}

// sinceReset moves start up to the website's reset point. It reports false
// when nothing of [start, end) survives the reset.
func sinceReset(scope access.Scope, start, end time.Time) (time.Time, bool) {
	if reset := scope.ResetAt(); !reset.IsZero() && start.Before(reset) {
		start = reset
	}
	return start, start.Before(end)
}

// read authorizes the :id website for viewing and parses the common query.
func (h *StatsHandlers) read(c *gin.Context) (access.Scope, stats.Query, bool) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermView)
	if !ok {
		return access.Scope{}, stats.Query{}, false
	}
	q, err := parseQuery(c, h.now())
	if err != nil {
		respondError(c, h.log, err)
		return access.Scope{}, stats.Query{}, false
	}
	return scope, q, true
}

func (h *StatsHandlers) Stats(c *gin.Context) {
	scope, q, ok := h.read(c)
	if !ok {
		return
	}
	summary, err := h.Engine.Summary(c.Request.Context(), scope, q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *StatsHandlers) Pageviews(c *gin.Context) {
	scope, q, ok := h.read(c)
	if !ok {
		return
	}
	if q.Unit == "" {
		q.Unit = stats.DefaultUnit(q.Start, q.End)
	}
	series, err := h.Engine.Series(c.Request.Context(), scope, q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit": q.Unit, "data": series})
}

// Metrics breaks the range down by ?type=. With incremental=true the
// cached per-chunk path answers instead.
func (h *StatsHandlers) Metrics(c *gin.Context) {
	scope, q, ok := h.read(c)
	if !ok {
		return
	}
	q.Dimension = c.Query("type")
	h.breakdown(c, scope, q)
}

func (h *StatsHandlers) breakdown(c *gin.Context, scope access.Scope, q stats.Query) {
	run := h.Engine.Breakdown
	if c.Query("incremental") == "true" {
		run = h.Engine.BreakdownIncremental
	}
	out, err := run(c.Request.Context(), scope, q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if out.Degraded {
		h.log.Warn("breakdown served without index",
			zap.String("website_id", scope.WebsiteID().String()),
			zap.String("dimension", out.Dimension))
	}
	c.JSON(http.StatusOK, out)
}

func (h *StatsHandlers) Revenue(c *gin.Context) {
	scope, q, ok := h.read(c)
	if !ok {
		return
	}
	totals, err := h.Engine.Revenue(c.Request.Context(), scope, q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": totals})
}

// EventDataKeys lists the attribute keys recorded in the range.
func (h *StatsHandlers) EventDataKeys(c *gin.Context) {
	scope, q, ok := h.read(c)
	if !ok {
		return
	}
	start, ok := sinceReset(scope, q.Start, q.End)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"data": []store.AttributeKey{}})
		return
	}
	keys, err := h.Attributes.EventKeys(c.Request.Context(), scope.WebsiteID(), start, q.End)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": keys})
}

// EventDataValues breaks the range down by one attribute key.
func (h *StatsHandlers) EventDataValues(c *gin.Context) {
	scope, q, ok := h.read(c)
	if !ok {
		return
	}
	q.Dimension = "data:" + c.Param("key")
	h.breakdown(c, scope, q)
}

func (h *StatsHandlers) Event(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermView)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	ev, err := h.Events.FindEvent(c.Request.Context(), scope.WebsiteID(), eventID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if reset := scope.ResetAt(); !reset.IsZero() && ev.Event.CreatedAt.Before(reset) {
		respondError(c, h.log, fmt.Errorf("%w: event %s", models.ErrNotFound, eventID))
		return
	}
	c.JSON(http.StatusOK, ev)
}

// Session returns one session with its identify attributes.
func (h *StatsHandlers) Session(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermView)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "sessionId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess, err := h.Sessions.Find(ctx, scope.WebsiteID(), sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if reset := scope.ResetAt(); !reset.IsZero() && sess.LastActivityAt.Before(reset) {
		respondError(c, h.log, fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID))
		return
	}
	attrs, err := h.Attributes.SessionAttributes(ctx, scope.WebsiteID(), sessionID, scope.ResetAt())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "data": attrs})
}

func (h *StatsHandlers) SessionData(c *gin.Context) {
	scope, ok := authorize(c, h.Guard, h.log, access.PermView)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "sessionId")
	if !ok {
		return
	}
	attrs, err := h.Attributes.SessionAttributes(c.Request.Context(), scope.WebsiteID(), sessionID, scope.ResetAt())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "data": attrs})
}

// EventCounts reads per-interval counts from the ClickHouse mirror.
func (h *StatsHandlers) EventCounts(c *gin.Context) {
	if h.Analytics == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "ClickHouse mirror is not enabled"})
		return
	}
	scope, q, ok := h.read(c)
	if !ok {
		return
	}
	interval := c.DefaultQuery("interval", "day")
	if !utils.IsValidInterval(interval) {
		badRequest(c, "Invalid 'interval'. Use one of: minute, hour, day, month, year", nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	start, ok := sinceReset(scope, q.Start, q.End)
	if !ok {
		c.JSON(http.StatusOK, []models.EventCount{})
		return
	}
	counts, err := h.Analytics.EventCountsOverTime(ctx, scope.WebsiteID(), interval, start, q.End, c.Query("event"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}
