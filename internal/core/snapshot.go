package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrDuplicateParticipant = errors.New("participant already exists")
	ErrExpenseNotFound      = errors.New("expense not found")
	ErrDuplicateExpense     = errors.New("expense already exists")
	ErrUnknownPayer         = errors.New("payer is not a participant")
	ErrUnknownBeneficiary   = errors.New("beneficiary is not a participant")
)

// Snapshot is the complete state of one splitting session. Operations on
// it return a new Snapshot and leave the receiver untouched, so a snapshot
// handed to Compute can be shared between goroutines.
type Snapshot struct {
	SessionID    string
	Title        string
	Owner        string
	Revision     int64
	Participants []Participant
	Expenses     []Expense
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Expenses = make([]Expense, len(s.Expenses))
	for i, e := range s.Expenses {
		out.Expenses[i] = e.Clone()
	}
	return out
}

// Summary computes balances and settlements for the snapshot.
func (s Snapshot) Summary() Summary {
	return Compute(s.Participants, s.Expenses)
}

func (s Snapshot) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (s Snapshot) Expense(id string) (Expense, bool) {
	for _, e := range s.Expenses {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return Expense{}, false
}

// NameOf returns the participant name for id, or "—" when unknown.
func (s Snapshot) NameOf(id string) string {
	if p, ok := s.Participant(id); ok {
		return p.Name
	}
	return "—"
}

func (s Snapshot) AddParticipant(p Participant) (Snapshot, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return s, err
	}
	if _, exists := s.Participant(p.ID); exists {
		return s, fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.ID)
	}
	out := s.Clone()
	out.Participants = append(out.Participants, p)
	return out, nil
}

func (s Snapshot) RenameParticipant(id, name string) (Snapshot, error) {
	name = strings.TrimSpace(name)
	if err := (Participant{ID: id, Name: name}).Validate(); err != nil {
		return s, err
	}
	out := s.Clone()
	for i := range out.Participants {
		if out.Participants[i].ID == id {
			out.Participants[i].Name = name
			return out, nil
		}
	}
	return s, fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
}

// RemoveParticipant deletes a participant and cascades the removal into
// every expense: the id leaves beneficiaries and shares, and expenses it
// paid for are reassigned to the first remaining participant (or to no
// payer when nobody is left).
func (s Snapshot) RemoveParticipant(id string) (Snapshot, error) {
	if _, ok := s.Participant(id); !ok {
		return s, fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
	}
	out := s.Clone()
	kept := out.Participants[:0]
	for _, p := range out.Participants {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	out.Participants = kept

	fallback := ""
	if len(kept) > 0 {
		fallback = kept[0].ID
	}
	for i := range out.Expenses {
		e := &out.Expenses[i]
		if e.PayerID == id {
			e.PayerID = fallback
		}
		bens := e.Beneficiaries[:0]
		for _, b := range e.Beneficiaries {
			if b != id {
				bens = append(bens, b)
			}
		}
		e.Beneficiaries = bens
		if cs, ok := e.Split.(CustomSplit); ok {
			delete(cs.Shares, id)
		}
	}
	return out, nil
}

func (s Snapshot) AddExpense(e Expense) (Snapshot, error) {
	if _, exists := s.Expense(e.ID); exists {
		return s, fmt.Errorf("%w: %s", ErrDuplicateExpense, e.ID)
	}
	e, err := s.checkExpense(e)
	if err != nil {
		return s, err
	}
	out := s.Clone()
	out.Expenses = append(out.Expenses, e)
	return out, nil
}

// RestoreExpense appends a stored expense as it is. Only references are
// checked: the payer must be a participant or empty and every beneficiary
// must be a participant. Shares are not required to add up, since removing
// a participant legitimately leaves expenses in that state.
func (s Snapshot) RestoreExpense(e Expense) (Snapshot, error) {
	if _, exists := s.Expense(e.ID); exists {
		return s, fmt.Errorf("%w: %s", ErrDuplicateExpense, e.ID)
	}
	if e.Amount < 0 || e.Amount > MaxAmount {
		return s, fmt.Errorf("%w: expense %s", ErrInvalidAmount, e.ID)
	}
	if e.PayerID != "" {
		if _, ok := s.Participant(e.PayerID); !ok {
			return s, fmt.Errorf("%w: %s", ErrUnknownPayer, e.PayerID)
		}
	}
	for _, id := range e.Beneficiaries {
		if _, ok := s.Participant(id); !ok {
			return s, fmt.Errorf("%w: %s", ErrUnknownBeneficiary, id)
		}
	}
	e = e.Clone()
	switch split := e.Split.(type) {
	case CustomSplit:
		for id, v := range split.Shares {
			if v > MaxAmount {
				return s, fmt.Errorf("%w: share for %s exceeds %d", ErrInvalidAmount, id, MaxAmount)
			}
		}
	case nil:
		e.Split = EqualSplit{}
	}
	out := s.Clone()
	out.Expenses = append(out.Expenses, e)
	return out, nil
}

// UpdateExpense replaces the expense with the same ID, keeping its position.
func (s Snapshot) UpdateExpense(e Expense) (Snapshot, error) {
	if _, exists := s.Expense(e.ID); !exists {
		return s, fmt.Errorf("%w: %s", ErrExpenseNotFound, e.ID)
	}
	e, err := s.checkExpense(e)
	if err != nil {
		return s, err
	}
	out := s.Clone()
	for i := range out.Expenses {
		if out.Expenses[i].ID == e.ID {
			out.Expenses[i] = e
			break
		}
	}
	return out, nil
}

func (s Snapshot) DeleteExpense(id string) (Snapshot, error) {
	if _, exists := s.Expense(id); !exists {
		return s, fmt.Errorf("%w: %s", ErrExpenseNotFound, id)
	}
	out := s.Clone()
	kept := out.Expenses[:0]
	for _, e := range out.Expenses {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	out.Expenses = kept
	return out, nil
}

// Reset drops all participants and expenses but keeps the session identity.
func (s Snapshot) Reset() Snapshot {
	out := s
	out.Participants = nil
	out.Expenses = nil
	return out
}

// checkExpense validates e against the participant list and drops shares
// that belong to non-beneficiaries.
func (s Snapshot) checkExpense(e Expense) (Expense, error) {
	e = e.Clone()
	e.Title = strings.TrimSpace(e.Title)
	if err := e.Validate(); err != nil {
		return e, err
	}
	if _, ok := s.Participant(e.PayerID); !ok {
		return e, fmt.Errorf("%w: %s", ErrUnknownPayer, e.PayerID)
	}
	for _, id := range e.Beneficiaries {
		if _, ok := s.Participant(id); !ok {
			return e, fmt.Errorf("%w: %s", ErrUnknownBeneficiary, id)
		}
	}
	if cs, ok := e.Split.(CustomSplit); ok {
		shares := make(map[string]int64, len(e.Beneficiaries))
		for _, id := range e.Beneficiaries {
			shares[id] = cs.Shares[id]
		}
		e.Split = CustomSplit{Shares: shares}
	}
	if e.Split == nil {
		e.Split = EqualSplit{}
	}
	return e, nil
}
