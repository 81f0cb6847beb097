// Package snapshot converts sessions to and from their JSON document form.
//
// Two shapes are read: the flat legacy document ({participants, expenses})
// written by earlier single-user versions, and the versioned envelope that
// Encode produces. Amounts and shares are JSON numbers and are rounded to
// whole base-currency units on the way in.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chongmu/internal/core"
)

// Version is the envelope version written by Encode.
const Version = 1

var (
	ErrMalformed          = errors.New("malformed session document")
	ErrUnsupportedVersion = errors.New("unsupported session document version")
)

type (
	// Document is the versioned envelope.
	Document struct {
		Version      int              `json:"version"`
		Session      *SessionDoc      `json:"session,omitempty"`
		Participants []ParticipantDoc `json:"participants"`
		Expenses     []ExpenseDoc     `json:"expenses"`
	}

	SessionDoc struct {
		ID        string    `json:"id"`
		Title     string    `json:"title,omitempty"`
		Owner     string    `json:"owner,omitempty"`
		Revision  int64     `json:"revision"`
		CreatedAt time.Time `json:"createdAt,omitempty"`
		UpdatedAt time.Time `json:"updatedAt,omitempty"`
	}

	ParticipantDoc struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// ExpenseDoc is the wire form of an expense, shared by both document
	// shapes and by the HTTP API.
	ExpenseDoc struct {
		ID             string             `json:"id"`
		Title          string             `json:"title"`
		Amount         float64            `json:"amount"`
		PayerID        string             `json:"payerId"`
		Beneficiaries  []string           `json:"beneficiaries"`
		SplitMode      string             `json:"splitMode"`
		Shares         map[string]float64 `json:"shares,omitempty"`
		OriginalAmount *float64           `json:"originalAmount,omitempty"`
		Currency       string             `json:"currency,omitempty"`
		ExchangeRate   *float64           `json:"exchangeRate,omitempty"`
	}
)

// FromParticipant converts a core participant to its wire form.
func FromParticipant(p core.Participant) ParticipantDoc {
	return ParticipantDoc{ID: p.ID, Name: p.Name}
}

func (d ParticipantDoc) ToCore() core.Participant {
	return core.Participant{ID: d.ID, Name: d.Name}
}

// FromExpense converts a core expense to its wire form.
func FromExpense(e core.Expense) ExpenseDoc {
	doc := ExpenseDoc{
		ID:            e.ID,
		Title:         e.Title,
		Amount:        float64(e.Amount),
		PayerID:       e.PayerID,
		Beneficiaries: append([]string{}, e.Beneficiaries...),
		SplitMode:     string(e.SplitMode()),
	}
	if shares := e.Shares(); shares != nil {
		doc.Shares = make(map[string]float64, len(shares))
		for id, v := range shares {
			doc.Shares[id] = float64(v)
		}
	}
	if e.Original != nil {
		amount := float64(e.Original.Amount)
		rate := e.Original.ExchangeRate
		doc.OriginalAmount = &amount
		doc.Currency = e.Original.Currency
		doc.ExchangeRate = &rate
	}
	return doc
}

// ToCore converts the wire form to a core expense. A custom split without a
// shares object, and any unrecognised split mode, become an equal split.
func (d ExpenseDoc) ToCore() core.Expense {
	e := core.Expense{
		ID:            d.ID,
		Title:         d.Title,
		Amount:        core.Round(d.Amount),
		PayerID:       d.PayerID,
		Beneficiaries: append([]string(nil), d.Beneficiaries...),
		Split:         core.EqualSplit{},
	}
	if core.SplitMode(d.SplitMode) == core.SplitCustom && d.Shares != nil {
		shares := make(map[string]int64, len(d.Shares))
		for id, v := range d.Shares {
			shares[id] = core.Round(v)
		}
		e.Split = core.CustomSplit{Shares: shares}
	}
	if d.OriginalAmount != nil || d.Currency != "" {
		orig := &core.OriginalAmount{Currency: d.Currency, ExchangeRate: 1}
		if d.OriginalAmount != nil {
			orig.Amount = core.Round(*d.OriginalAmount)
		}
		if d.ExchangeRate != nil {
			orig.ExchangeRate = *d.ExchangeRate
		}
		e.Original = orig
	}
	return e
}

// DocumentOf converts a snapshot to the versioned envelope.
func DocumentOf(s core.Snapshot) Document {
	doc := Document{
		Version: Version,
		Session: &SessionDoc{
			ID:        s.SessionID,
			Title:     s.Title,
			Owner:     s.Owner,
			Revision:  s.Revision,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		},
		Participants: make([]ParticipantDoc, 0, len(s.Participants)),
		Expenses:     make([]ExpenseDoc, 0, len(s.Expenses)),
	}
	for _, p := range s.Participants {
		doc.Participants = append(doc.Participants, FromParticipant(p))
	}
	for _, e := range s.Expenses {
		doc.Expenses = append(doc.Expenses, FromExpense(e))
	}
	return doc
}

// Encode renders the snapshot as a versioned document.
func Encode(s core.Snapshot) ([]byte, error) {
	doc := DocumentOf(s)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.SessionID, err)
	}
	return data, nil
}

// Decode parses either document shape. Referential integrity between
// expenses and participants is not checked here; the aggregator tolerates
// dangling ids.
func Decode(data []byte) (core.Snapshot, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Version < 0 || doc.Version > Version {
		return core.Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	var s core.Snapshot
	if doc.Session != nil {
		s.SessionID = doc.Session.ID
		s.Title = doc.Session.Title
		s.Owner = doc.Session.Owner
		s.Revision = doc.Session.Revision
		s.CreatedAt = doc.Session.CreatedAt
		s.UpdatedAt = doc.Session.UpdatedAt
	}

	seen := make(map[string]struct{}, len(doc.Participants))
	s.Participants = make([]core.Participant, 0, len(doc.Participants))
	for i, p := range doc.Participants {
		if p.ID == "" {
			return core.Snapshot{}, fmt.Errorf("%w: participant %d has no id", ErrMalformed, i)
		}
		if _, dup := seen[p.ID]; dup {
			return core.Snapshot{}, fmt.Errorf("%w: participant %s appears twice", ErrMalformed, p.ID)
		}
		seen[p.ID] = struct{}{}
		s.Participants = append(s.Participants, p.ToCore())
	}

	seen = make(map[string]struct{}, len(doc.Expenses))
	s.Expenses = make([]core.Expense, 0, len(doc.Expenses))
	for i, e := range doc.Expenses {
		if e.ID == "" {
			return core.Snapshot{}, fmt.Errorf("%w: expense %d has no id", ErrMalformed, i)
		}
		if _, dup := seen[e.ID]; dup {
			return core.Snapshot{}, fmt.Errorf("%w: expense %s appears twice", ErrMalformed, e.ID)
		}
		seen[e.ID] = struct{}{}
		s.Expenses = append(s.Expenses, e.ToCore())
	}
	return s, nil
}
