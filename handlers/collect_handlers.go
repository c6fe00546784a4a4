package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"umamicore/api/geo"
	"umamicore/api/ingest"
)

// Payload is the body the umami tracker posts.
type Payload struct {
	Website   uuid.UUID       `json:"website"`
	Hostname  string          `json:"hostname"`
	Screen    string          `json:"screen"`
	Language  string          `json:"language"`
	Title     string          `json:"title"`
	URL       string          `json:"url"`
	Referrer  string          `json:"referrer"`
	Name      string          `json:"name"`
	Tag       string          `json:"tag"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type SendRequest struct {
	Type    string  `json:"type" binding:"required,oneof=event identify"`
	Payload Payload `json:"payload"`
}

type hitWriter interface {
	Ingest(ctx context.Context, hits []ingest.Hit) ([]ingest.Result, error)
}

type CollectHandlers struct {
	Writer        hitWriter
	Fingerprinter *ingest.Fingerprinter
	Geo           *geo.Locator
	log           *zap.Logger
	maxBatch      int
	timeout       time.Duration
}

func NewCollectHandlers(w hitWriter, fp *ingest.Fingerprinter, loc *geo.Locator, maxBatch int, timeout time.Duration, log *zap.Logger) *CollectHandlers {
	return &CollectHandlers{Writer: w, Fingerprinter: fp, Geo: loc, maxBatch: maxBatch, timeout: timeout, log: log}
}

// toHit builds a hit from a request. It reports bots, whose hits are
// acknowledged and dropped.
func (h *CollectHandlers) toHit(c *gin.Context, req SendRequest) (ingest.Hit, bool, error) {
	p := req.Payload
	data, err := ingest.DecodeData(p.Data)
	if err != nil {
		return ingest.Hit{}, false, err
	}

	ua := c.Request.UserAgent()
	ip := c.ClientIP()
	client, bot := ingest.ParseClient(ua, p.Screen, p.Language, h.Geo.Lookup(ip, c.Request.Header))
	if bot {
		return ingest.Hit{}, true, nil
	}

	at := time.Now().UTC()
	if p.Timestamp > 0 {
		at = time.Unix(p.Timestamp, 0).UTC()
	}
	fp, err := h.Fingerprinter.Compute(p.Website, ip, ua, at)
	if err != nil {
		return ingest.Hit{}, false, err
	}
	return ingest.Hit{
		WebsiteID:   p.Website,
		Fingerprint: fp,
		Type:        ingest.HitType(req.Type),
		Timestamp:   at,
		URL:         p.URL,
		Referrer:    p.Referrer,
		Title:       p.Title,
		Hostname:    p.Hostname,
		Name:        p.Name,
		Tag:         p.Tag,
		Data:        data,
		Client:      client,
		DistinctID:  p.ID,
	}, false, nil
}

func (h *CollectHandlers) ingest(c *gin.Context, hits []ingest.Hit) ([]ingest.Result, error) {
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	return h.Writer.Ingest(ctx, hits)
}

// Send records one tracker hit.
func (h *CollectHandlers) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	hit, bot, err := h.toHit(c, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if bot {
		c.JSON(http.StatusOK, gin.H{"beep": "boop"})
		return
	}

	results, err := h.ingest(c, []ingest.Hit{hit})
	if err == nil {
		err = results[0].Err
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, results[0])
}

type batchItem struct {
	ingest.Result
	Error string `json:"error,omitempty"`
}

// Batch records up to maxBatch hits. Each hit succeeds or fails on its own.
func (h *CollectHandlers) Batch(c *gin.Context) {
	var reqs []SendRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if h.maxBatch > 0 && len(reqs) > h.maxBatch {
		badRequest(c, fmt.Sprintf("Batch holds more than %d hits", h.maxBatch), nil)
		return
	}
	for i := range reqs {
		if reqs[i].Type != string(ingest.HitEvent) && reqs[i].Type != string(ingest.HitIdentify) {
			badRequest(c, fmt.Sprintf("Invalid type at index %d", i), nil)
			return
		}
	}

	items := make([]batchItem, len(reqs))
	var hits []ingest.Hit
	var slots []int
	for i, req := range reqs {
		hit, bot, err := h.toHit(c, req)
		switch {
		case err != nil:
			items[i].Error = err.Error()
		case bot:
		default:
			hits = append(hits, hit)
			slots = append(slots, i)
		}
	}

	results, err := h.ingest(c, hits)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	failed := 0
	for j, r := range results {
		items[slots[j]].Result = r
		if r.Err != nil {
			items[slots[j]].Error = r.Err.Error()
		}
	}
	for _, it := range items {
		if it.Error != "" {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"size": len(reqs), "errors": failed, "data": items})
}

// Pixel serves a 1x1 GIF for noscript tracking links.
func (h *CollectHandlers) Pixel(c *gin.Context) {
	website, err := uuid.Parse(c.Query("website"))
	if err == nil {
		req := SendRequest{Type: string(ingest.HitEvent), Payload: Payload{
			Website:  website,
			URL:      c.Query("url"),
			Referrer: c.GetHeader("Referer"),
			Hostname: c.Query("hostname"),
		}}
		if hit, bot, err := h.toHit(c, req); err == nil && !bot {
			if results, err := h.ingest(c, []ingest.Hit{hit}); err == nil && results[0].Err != nil {
				h.log.Debug("pixel hit rejected", zap.Error(results[0].Err))
			}
		}
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/gif", transparentGIF)
}

var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}
