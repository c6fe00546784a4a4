package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"umamicore/api/access"
	"umamicore/api/metrics"
	"umamicore/api/models"
)

var (
	sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("umamicore/session"))
	visitNamespace   = uuid.NewSHA1(uuid.NameSpaceURL, []byte("umamicore/visit"))
)

// SessionID is the deterministic id of the seq-th window of a fingerprint
// on a website. Racing writers compute the same id for the same window.
func SessionID(websiteID uuid.UUID, fingerprint string, seq int64) uuid.UUID {
	name := make([]byte, 0, 16+len(fingerprint)+24)
	name = append(name, websiteID[:]...)
	name = append(name, fingerprint...)
	name = append(name, '|')
	name = strconv.AppendInt(name, seq, 10)
	return uuid.NewSHA1(sessionNamespace, name)
}

// VisitID groups the events of a session into fixed visit buckets.
func VisitID(sessionID uuid.UUID, at time.Time, visitWindow time.Duration) uuid.UUID {
	name := make([]byte, 16, 24)
	copy(name, sessionID[:])
	name = binary.BigEndian.AppendUint64(name, uint64(at.Truncate(visitWindow).Unix()))
	return uuid.NewSHA1(visitNamespace, name)
}

type sessionRepo interface {
	Covering(ctx context.Context, websiteID uuid.UUID, fingerprint string, at time.Time, window time.Duration) (*models.Session, error)
	Latest(ctx context.Context, websiteID uuid.UUID, fingerprint string) (*models.Session, error)
	InsertIfAbsent(ctx context.Context, sess *models.Session) (bool, error)
	FindBySeq(ctx context.Context, websiteID uuid.UUID, fingerprint string, seq int64) (*models.Session, error)
	Touch(ctx context.Context, websiteID, sessionID uuid.UUID, at time.Time) error
}

type Resolution struct {
	Session *models.Session
	VisitID uuid.UUID
	Created bool
}

// Resolver maps hits onto sessions. A hit joins whichever session of its
// fingerprint has a rolling inactivity window covering it, so late hits
// rejoin older sessions; otherwise it opens a window after the highest
// sequence. Creation races are settled by the
// (website_id, fingerprint, window_seq) unique key: the loser re-reads the
// winner instead of locking.
type Resolver struct {
	sessions    sessionRepo
	window      time.Duration
	visitWindow time.Duration
	maxAttempts int
	log         *zap.Logger
}

func NewResolver(sessions sessionRepo, window, visitWindow time.Duration, maxAttempts int, log *zap.Logger) *Resolver {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		sessions:    sessions,
		window:      window,
		visitWindow: visitWindow,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (r *Resolver) within(s *models.Session, at time.Time) bool {
	return !at.Before(s.CreatedAt.Add(-r.window)) && !at.After(s.LastActivityAt.Add(r.window))
}

func (r *Resolver) reuse(ctx context.Context, s *models.Session, at time.Time) (*Resolution, error) {
	if err := r.sessions.Touch(ctx, s.WebsiteID, s.ID, at); err != nil {
		return nil, err
	}
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return &Resolution{Session: s, VisitID: VisitID(s.ID, at, r.visitWindow)}, nil
}

func (r *Resolver) Resolve(ctx context.Context, scope access.Scope, fingerprint string, at time.Time, client models.ClientInfo) (*Resolution, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	if err := ValidateFingerprint(fingerprint); err != nil {
		return nil, err
	}
	websiteID := scope.WebsiteID()
	at = at.UTC().Truncate(time.Microsecond)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		covering, err := r.sessions.Covering(ctx, websiteID, fingerprint, at, r.window)
		if err != nil {
			return nil, err
		}
		if covering != nil {
			return r.reuse(ctx, covering, at)
		}
		latest, err := r.sessions.Latest(ctx, websiteID, fingerprint)
		if err != nil {
			return nil, err
		}

		var seq int64
		if latest != nil {
			seq = latest.WindowSeq + 1
		}
		sess := &models.Session{
			ID:             SessionID(websiteID, fingerprint, seq),
			WebsiteID:      websiteID,
			Fingerprint:    fingerprint,
			WindowSeq:      seq,
			CreatedAt:      at,
			LastActivityAt: at,
		}
		client.Apply(sess)

		created, err := r.sessions.InsertIfAbsent(ctx, sess)
		if err != nil {
			return nil, err
		}
		if created {
			return &Resolution{Session: sess, VisitID: VisitID(sess.ID, at, r.visitWindow), Created: true}, nil
		}

		metrics.SessionConflicts.Inc()
		winner, err := r.sessions.FindBySeq(ctx, websiteID, fingerprint, seq)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if r.within(winner, at) {
			return r.reuse(ctx, winner, at)
		}
		r.log.Debug("session window taken by a distant hit, moving on",
			zap.String("website_id", websiteID.String()),
			zap.Int64("window_seq", seq),
			zap.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("%w: session for website %s after %d attempts: %w",
		models.ErrTransientFailure, websiteID, r.maxAttempts, models.ErrConflictRetryable)
}
