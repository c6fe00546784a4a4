package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"umamicore/api/access"
	"umamicore/api/config"
	"umamicore/api/metrics"
	"umamicore/api/models"
	"umamicore/api/store"
)

type scopeProvider interface {
	IngestScope(ctx context.Context, websiteID uuid.UUID) (access.Scope, error)
}

type sessionResolver interface {
	Resolve(ctx context.Context, scope access.Scope, fingerprint string, at time.Time, client models.ClientInfo) (*Resolution, error)
}

type eventWriter interface {
	WriteEvent(ctx context.Context, websiteID uuid.UUID, ev *models.WebsiteEvent, data []models.EventData, rev *models.Revenue) error
	WriteSessionData(ctx context.Context, websiteID uuid.UUID, rows []models.SessionData) error
}

// Sink receives committed events. It is best effort: failures are logged
// and never undo the primary write.
type Sink interface {
	Mirror(ctx context.Context, events []models.WebsiteEvent) error
}

type Result struct {
	EventID   uuid.UUID `json:"eventId,omitempty"`
	SessionID uuid.UUID `json:"sessionId,omitempty"`
	VisitID   uuid.UUID `json:"visitId,omitempty"`
	Err       error     `json:"-"`
}

type Writer struct {
	scopes   scopeProvider
	resolver sessionResolver
	events   eventWriter
	sink     Sink
	cfg      config.IngestConfig
	now      func() time.Time
	log      *zap.Logger
}

func NewWriter(cfg config.IngestConfig, scopes scopeProvider, resolver sessionResolver, events eventWriter, sink Sink, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Writer{
		scopes:   scopes,
		resolver: resolver,
		events:   events,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

type groupKey struct {
	website     uuid.UUID
	fingerprint string
}

// Ingest writes a batch of hits and returns one result per hit, in input
// order. Invalid hits are rejected without touching storage. Hits of one
// (website, fingerprint) pair are written sequentially in timestamp order;
// distinct pairs proceed concurrently. The returned error is non-nil only
// when ctx ends before the batch completes.
func (w *Writer) Ingest(ctx context.Context, hits []Hit) ([]Result, error) {
	results := make([]Result, len(hits))
	now := w.now()

	groups := map[groupKey][]*prepared{}
	var order []groupKey
	for i, h := range hits {
		p, err := prepare(i, h, now)
		if err != nil {
			results[i].Err = err
			metrics.IngestedHits.WithLabelValues("invalid").Inc()
			continue
		}
		k := groupKey{website: h.WebsiteID, fingerprint: h.Fingerprint}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], p)
	}

	scopes := map[uuid.UUID]access.Scope{}
	scopeErrs := map[uuid.UUID]error{}
	for _, k := range order {
		if _, seen := scopes[k.website]; seen {
			continue
		}
		if _, failed := scopeErrs[k.website]; failed {
			continue
		}
		scope, err := w.scopes.IngestScope(ctx, k.website)
		if err != nil {
			scopeErrs[k.website] = err
			continue
		}
		scopes[k.website] = scope
	}

	var (
		mu        sync.Mutex
		committed []models.WebsiteEvent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Workers)
	for _, k := range order {
		batch := groups[k]
		if err := scopeErrs[k.website]; err != nil {
			for _, p := range batch {
				results[p.index].Err = err
				metrics.IngestedHits.WithLabelValues("rejected").Inc()
			}
			continue
		}
		scope := scopes[k.website]
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].at.Before(batch[j].at) })

		g.Go(func() error {
			for _, p := range batch {
				if err := gctx.Err(); err != nil {
					results[p.index].Err = err
					continue
				}
				res := w.writeOne(gctx, scope, p)
				results[p.index] = res
				if res.Err != nil {
					metrics.IngestedHits.WithLabelValues("failed").Inc()
					w.log.Warn("hit not written",
						zap.String("website_id", scope.WebsiteID().String()),
						zap.Error(res.Err))
					continue
				}
				metrics.IngestedHits.WithLabelValues("ok").Inc()
				if p.event != nil {
					mu.Lock()
					committed = append(committed, *p.event)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	w.mirror(ctx, committed)
	return results, ctx.Err()
}

func (w *Writer) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if w.cfg.InitialInterval > 0 {
		b.InitialInterval = w.cfg.InitialInterval
	}
	if w.cfg.Timeout > 0 {
		b.MaxElapsedTime = w.cfg.Timeout
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.MaxAttempts-1)), ctx)
}

// writeOne resolves the session and commits the hit as a single unit,
// retrying the whole unit on transient storage failures. Session ids are
// deterministic and event ids are fixed before the first attempt, so a
// retry never duplicates rows.
func (w *Writer) writeOne(ctx context.Context, scope access.Scope, p *prepared) Result {
	var res Result
	op := func() error {
		resolution, err := w.resolver.Resolve(ctx, scope, p.hit.Fingerprint, p.at, p.hit.Client)
		if err != nil {
			return classify(err)
		}
		sess := resolution.Session
		res = Result{SessionID: sess.ID, VisitID: resolution.VisitID}

		if p.event == nil {
			rows := make([]models.SessionData, 0, len(p.attrs))
			for _, a := range p.attrs {
				row := models.NewSessionData(scope.WebsiteID(), sess.ID, a.key, a.value, p.at)
				row.DistinctID = optional(p.hit.DistinctID, models.MaxDistinctID)
				rows = append(rows, row)
			}
			return classify(w.events.WriteSessionData(ctx, scope.WebsiteID(), rows))
		}

		p.event.SessionID = sess.ID
		p.event.VisitID = resolution.VisitID
		data := make([]models.EventData, 0, len(p.attrs))
		for _, a := range p.attrs {
			data = append(data, models.NewEventData(scope.WebsiteID(), p.event.ID, a.key, a.value, p.at))
		}
		var rev *models.Revenue
		if p.revenue != nil {
			rev = &models.Revenue{
				WebsiteID: scope.WebsiteID(),
				SessionID: sess.ID,
				EventID:   p.event.ID,
				EventName: *p.event.EventName,
				Currency:  p.revenue.Currency,
				Revenue:   p.revenue.Amount,
				CreatedAt: p.at,
			}
		}
		if err := w.events.WriteEvent(ctx, scope.WebsiteID(), p.event, data, rev); err != nil {
			return classify(err)
		}
		res.EventID = p.event.ID
		return nil
	}

	notify := func(err error, wait time.Duration) {
		metrics.WriteRetries.Inc()
		w.log.Debug("retrying hit after transient failure", zap.Error(err), zap.Duration("wait", wait))
	}

	err := backoff.RetryNotify(op, w.retryPolicy(ctx), notify)
	if err != nil {
		if store.IsTransient(err) && !errors.Is(err, models.ErrConflictRetryable) {
			err = fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
		}
		return Result{Err: err}
	}
	return res
}

// classify stops retries for everything but transient storage failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if store.IsTransient(err) && !errors.Is(err, models.ErrConflictRetryable) {
		return err
	}
	return backoff.Permanent(err)
}

func (w *Writer) mirror(ctx context.Context, events []models.WebsiteEvent) {
	if w.sink == nil || len(events) == 0 {
		return
	}
	if err := w.sink.Mirror(context.WithoutCancel(ctx), events); err != nil {
		metrics.MirrorFailures.Add(float64(len(events)))
		w.log.Error("failed to mirror events", zap.Int("count", len(events)), zap.Error(err))
	}
}
