package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chongmu/internal/cache"
	"chongmu/internal/core"
	applog "chongmu/internal/log"
	"chongmu/internal/snapshot"
	"chongmu/internal/store"
)

const (
	// BaseCurrency is the unit every expense amount is stored in.
	BaseCurrency = "KRW"

	maxSaveAttempts = 3
	maxTitleLength  = 200
	defaultTitle    = "Untitled trip"
)

var ErrUnknownSplitMode = errors.New("unknown split mode")

// ExpenseInput is an expense as entered by a user: the amount is in
// Currency and is converted to the base currency with ExchangeRate.
type ExpenseInput struct {
	Title         string
	Amount        int64
	Currency      string
	ExchangeRate  float64
	PayerID       string
	Beneficiaries []string
	SplitMode     core.SplitMode
	Shares        map[string]int64
}

// SessionService runs every session operation as load, apply, save,
// invalidate cached summaries, publish.
type SessionService struct {
	store     store.SessionStore
	publisher Publisher
	summaries cache.Cache[core.Summary]
	logger    *applog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*SessionService)

func WithPublisher(p Publisher) Option {
	return func(s *SessionService) { s.publisher = p }
}

func WithSummaryCache(c cache.Cache[core.Summary]) Option {
	return func(s *SessionService) { s.summaries = c }
}

func WithLogger(l *applog.Logger) Option {
	return func(s *SessionService) { s.logger = l.WithComponent(applog.ComponentSession) }
}

func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *SessionService) { s.newID = gen }
}

func NewSessionService(st store.SessionStore, opts ...Option) *SessionService {
	s := &SessionService{
		store:     st,
		summaries: cache.NewLRUCache[core.Summary](256, 5*time.Minute),
		logger:    applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentSession),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cleanTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return defaultTitle, nil
	}
	if len([]rune(title)) > maxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", core.ErrTooLong, maxTitleLength)
	}
	return title, nil
}

// CreateSession starts an empty session at revision 1.
func (s *SessionService) CreateSession(ctx context.Context, title, owner string) (core.Snapshot, error) {
	title, err := cleanTitle(title)
	if err != nil {
		return core.Snapshot{}, err
	}
	now := s.now()
	snap := core.Snapshot{
		SessionID: s.newID(),
		Title:     title,
		Owner:     owner,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("create session: %w", err)
	}
	s.logger.InfoContext(ctx, "Session created", applog.FieldSessionID, snap.SessionID)
	s.publishChanged(ctx, snap)
	return snap, nil
}

func (s *SessionService) GetSession(ctx context.Context, id string) (core.Snapshot, error) {
	snap, err := s.store.Get(ctx, id)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("get session: %w", err)
	}
	return snap, nil
}

func (s *SessionService) ListSessions(ctx context.Context, owner string) ([]store.SessionInfo, error) {
	list, err := s.store.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return list, nil
}

func (s *SessionService) DeleteSession(ctx context.Context, id string) error {
	snap, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.invalidate(id)
	s.logger.InfoContext(ctx, "Session deleted", applog.FieldSessionID, id)

	if s.publisher != nil {
		if err := s.publisher.PublishSessionDeleted(ctx, id, snap.Revision+1); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish session deletion",
				applog.FieldSessionID, id, applog.FieldError, err)
		}
	}
	return nil
}

// RenameSession changes the session title.
func (s *SessionService) RenameSession(ctx context.Context, id, title string) (core.Snapshot, error) {
	title, err := cleanTitle(title)
	if err != nil {
		return core.Snapshot{}, err
	}
	return s.mutate(ctx, id, applog.OpUpdate, func(cur core.Snapshot) (core.Snapshot, error) {
		out := cur.Clone()
		out.Title = title
		return out, nil
	})
}

func (s *SessionService) AddParticipant(ctx context.Context, sessionID, name string) (core.Snapshot, core.Participant, error) {
	p := core.Participant{ID: s.newID(), Name: strings.TrimSpace(name)}
	snap, err := s.mutate(ctx, sessionID, applog.OpCreate, func(cur core.Snapshot) (core.Snapshot, error) {
		return cur.AddParticipant(p)
	})
	if err != nil {
		return core.Snapshot{}, core.Participant{}, err
	}
	return snap, p, nil
}

func (s *SessionService) RenameParticipant(ctx context.Context, sessionID, participantID, name string) (core.Snapshot, error) {
	return s.mutate(ctx, sessionID, applog.OpUpdate, func(cur core.Snapshot) (core.Snapshot, error) {
		return cur.RenameParticipant(participantID, name)
	})
}

// RemoveParticipant removes the participant and cascades into expenses.
func (s *SessionService) RemoveParticipant(ctx context.Context, sessionID, participantID string) (core.Snapshot, error) {
	return s.mutate(ctx, sessionID, applog.OpDelete, func(cur core.Snapshot) (core.Snapshot, error) {
		return cur.RemoveParticipant(participantID)
	})
}

func (s *SessionService) AddExpense(ctx context.Context, sessionID string, in ExpenseInput) (core.Snapshot, core.Expense, error) {
	e, err := buildExpense(s.newID(), in)
	if err != nil {
		return core.Snapshot{}, core.Expense{}, err
	}
	snap, err := s.mutate(ctx, sessionID, applog.OpCreate, func(cur core.Snapshot) (core.Snapshot, error) {
		return cur.AddExpense(e)
	})
	if err != nil {
		return core.Snapshot{}, core.Expense{}, err
	}
	stored, _ := snap.Expense(e.ID)
	return snap, stored, nil
}

// UpdateExpense replaces an expense in place. Omitting the currency keeps
// the original amount record of the stored expense only if the amount is
// unchanged.
func (s *SessionService) UpdateExpense(ctx context.Context, sessionID, expenseID string, in ExpenseInput) (core.Snapshot, core.Expense, error) {
	e, err := buildExpense(expenseID, in)
	if err != nil {
		return core.Snapshot{}, core.Expense{}, err
	}
	snap, err := s.mutate(ctx, sessionID, applog.OpUpdate, func(cur core.Snapshot) (core.Snapshot, error) {
		upd := e
		if upd.Original == nil {
			if prev, ok := cur.Expense(expenseID); ok && prev.Original != nil && prev.Amount == upd.Amount {
				upd.Original = prev.Original
			}
		}
		return cur.UpdateExpense(upd)
	})
	if err != nil {
		return core.Snapshot{}, core.Expense{}, err
	}
	stored, _ := snap.Expense(expenseID)
	return snap, stored, nil
}

func (s *SessionService) DeleteExpense(ctx context.Context, sessionID, expenseID string) (core.Snapshot, error) {
	return s.mutate(ctx, sessionID, applog.OpDelete, func(cur core.Snapshot) (core.Snapshot, error) {
		return cur.DeleteExpense(expenseID)
	})
}

// Reset empties the session but keeps its identity and title.
func (s *SessionService) Reset(ctx context.Context, sessionID string) (core.Snapshot, error) {
	return s.mutate(ctx, sessionID, applog.OpReset, func(cur core.Snapshot) (core.Snapshot, error) {
		return cur.Reset(), nil
	})
}

// Summary returns the session with its balances and settlements. Results
// are cached per revision; callers get their own copy.
func (s *SessionService) Summary(ctx context.Context, sessionID string) (core.Snapshot, core.Summary, error) {
	snap, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return core.Snapshot{}, core.Summary{}, fmt.Errorf("summary: %w", err)
	}

	key := summaryKey(snap.SessionID, snap.Revision)
	if cached, ok := s.summaries.Get(key); ok {
		return snap, cached.Clone(), nil
	}

	sum := snap.Summary()
	s.summaries.Set(key, sum.Clone())
	s.logger.DebugContext(ctx, "Summary computed",
		applog.FieldSessionID, snap.SessionID,
		applog.FieldRevision, snap.Revision,
		applog.FieldSettlements, len(sum.Settlements))
	return snap, sum, nil
}

// Import creates a new session from a session document. Participants go
// through the regular checks; expenses are restored as stored, with only
// their payer and beneficiary references verified, so any state a session
// can reach can be exported and imported back.
func (s *SessionService) Import(ctx context.Context, data []byte, owner string) (core.Snapshot, error) {
	decoded, err := snapshot.Decode(data)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("import: %w", err)
	}

	title := decoded.Title
	if title == "" {
		title = "Imported trip"
	}
	title, err = cleanTitle(title)
	if err != nil {
		return core.Snapshot{}, err
	}

	now := s.now()
	snap := core.Snapshot{
		SessionID: s.newID(),
		Title:     title,
		Owner:     owner,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range decoded.Participants {
		if snap, err = snap.AddParticipant(p); err != nil {
			return core.Snapshot{}, fmt.Errorf("import participant %s: %w", p.ID, err)
		}
	}
	for _, e := range decoded.Expenses {
		if snap, err = snap.RestoreExpense(e); err != nil {
			return core.Snapshot{}, fmt.Errorf("import expense %s: %w", e.ID, err)
		}
	}

	if err := s.store.Create(ctx, snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("import: %w", err)
	}
	s.logger.InfoContext(ctx, "Session imported",
		applog.FieldSessionID, snap.SessionID,
		"participants", len(snap.Participants),
		"expenses", len(snap.Expenses))
	s.publishChanged(ctx, snap)
	return snap, nil
}

// Export renders the session as a versioned session document.
func (s *SessionService) Export(ctx context.Context, sessionID string) ([]byte, error) {
	snap, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return snapshot.Encode(snap)
}

func (s *SessionService) mutate(ctx context.Context, id, op string, apply func(core.Snapshot) (core.Snapshot, error)) (core.Snapshot, error) {
	for attempt := 1; ; attempt++ {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("%s: %w", op, err)
		}
		next, err := apply(cur)
		if err != nil {
			return core.Snapshot{}, err
		}
		next.Revision = cur.Revision + 1
		next.UpdatedAt = s.now()

		err = s.store.Save(ctx, next)
		if errors.Is(err, store.ErrConflict) && attempt < maxSaveAttempts {
			s.logger.WarnContext(ctx, "Revision conflict, retrying",
				applog.FieldSessionID, id, applog.FieldOperation, op, "attempt", attempt)
			continue
		}
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("%s: save session: %w", op, err)
		}

		s.invalidate(id)
		s.logger.InfoContext(ctx, "Session updated",
			applog.FieldSessionID, id,
			applog.FieldRevision, next.Revision,
			applog.FieldOperation, op)
		s.publishChanged(ctx, next)
		return next, nil
	}
}

func (s *SessionService) invalidate(id string) {
	s.summaries.DeletePrefix(id + ":")
}

func (s *SessionService) publishChanged(ctx context.Context, snap core.Snapshot) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSessionChanged(ctx, snap.SessionID, snap.Revision); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish session change",
			applog.FieldSessionID, snap.SessionID,
			applog.FieldRevision, snap.Revision,
			applog.FieldError, err)
	}
}

func summaryKey(id string, revision int64) string {
	return fmt.Sprintf("%s:%d", id, revision)
}

func buildExpense(id string, in ExpenseInput) (core.Expense, error) {
	e := core.Expense{
		ID:            id,
		Title:         in.Title,
		Amount:        in.Amount,
		PayerID:       in.PayerID,
		Beneficiaries: append([]string(nil), in.Beneficiaries...),
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency != "" {
		rate := in.ExchangeRate
		if currency == BaseCurrency {
			rate = 1
		}
		amount, err := core.ConvertToBase(in.Amount, rate)
		if err != nil {
			return core.Expense{}, err
		}
		e.Amount = amount
		e.Original = &core.OriginalAmount{Amount: in.Amount, Currency: currency, ExchangeRate: rate}
	}

	switch in.SplitMode {
	case "", core.SplitEqual:
		e.Split = core.EqualSplit{}
	case core.SplitCustom:
		shares := make(map[string]int64, len(in.Shares))
		for pid, v := range in.Shares {
			shares[pid] = v
		}
		e.Split = core.CustomSplit{Shares: shares}
	default:
		return core.Expense{}, fmt.Errorf("%w: %q", ErrUnknownSplitMode, in.SplitMode)
	}
	return e, nil
}
