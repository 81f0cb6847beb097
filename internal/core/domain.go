package core

import (
	"errors"
	"fmt"
	"strings"
)

const (
	SplitEqual  SplitMode = "equal"
	SplitCustom SplitMode = "custom"
)

type (
	SplitMode string

	Participant struct {
		ID   string
		Name string
	}

	// Split describes how an expense is divided among its beneficiaries.
	// It is either EqualSplit or CustomSplit; a nil Split means equal.
	Split interface {
		Mode() SplitMode
		isSplit()
	}

	EqualSplit struct{}

	// CustomSplit assigns an explicit amount to each beneficiary.
	// Beneficiaries without an entry owe nothing.
	CustomSplit struct {
		Shares map[string]int64
	}

	// OriginalAmount keeps the amount as entered before conversion to the
	// base currency. Balances never read it.
	OriginalAmount struct {
		Amount       int64
		Currency     string
		ExchangeRate float64
	}

	Expense struct {
		ID            string
		Title         string
		Amount        int64 // base currency, already converted
		PayerID       string
		Beneficiaries []string
		Split         Split
		Original      *OriginalAmount
	}
)

func (EqualSplit) Mode() SplitMode { return SplitEqual }
func (EqualSplit) isSplit()        {}

func (CustomSplit) Mode() SplitMode { return SplitCustom }
func (CustomSplit) isSplit()        {}

var (
	ErrEmptyName            = errors.New("empty participant name")
	ErrEmptyTitle           = errors.New("empty expense title")
	ErrTooLong              = errors.New("text too long")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidExchangeRate  = errors.New("invalid exchange rate")
	ErrMissingPayer         = errors.New("missing payer")
	ErrNoBeneficiaries      = errors.New("at least one beneficiary is required")
	ErrDuplicateBeneficiary = errors.New("duplicate beneficiary")
	ErrNegativeShare        = errors.New("negative share")
	ErrSharesMismatch       = errors.New("custom shares do not add up to the amount")
)

// SplitMode reports the expense split mode, defaulting to equal.
func (e Expense) SplitMode() SplitMode {
	if e.Split == nil {
		return SplitEqual
	}
	return e.Split.Mode()
}

// Shares returns the custom shares, or nil for equal splits.
func (e Expense) Shares() map[string]int64 {
	if cs, ok := e.Split.(CustomSplit); ok {
		return cs.Shares
	}
	return nil
}

// Clone returns a deep copy of the expense.
func (e Expense) Clone() Expense {
	out := e
	out.Beneficiaries = append([]string(nil), e.Beneficiaries...)
	if cs, ok := e.Split.(CustomSplit); ok {
		shares := make(map[string]int64, len(cs.Shares))
		for id, v := range cs.Shares {
			shares[id] = v
		}
		out.Split = CustomSplit{Shares: shares}
	}
	if e.Original != nil {
		orig := *e.Original
		out.Original = &orig
	}
	return out
}

func (p Participant) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if len(p.Name) > 100 {
		return fmt.Errorf("%w: name exceeds 100 characters", ErrTooLong)
	}
	return nil
}

// Validate checks an expense before it is stored. Balance computation
// never calls it and tolerates expenses that would fail here.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if len(e.Title) > 200 {
		return fmt.Errorf("%w: title exceeds 200 characters", ErrTooLong)
	}
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.Amount > MaxAmount {
		return fmt.Errorf("%w: exceeds %d", ErrInvalidAmount, MaxAmount)
	}
	if strings.TrimSpace(e.PayerID) == "" {
		return ErrMissingPayer
	}
	if len(e.Beneficiaries) == 0 {
		return ErrNoBeneficiaries
	}
	seen := make(map[string]struct{}, len(e.Beneficiaries))
	for _, id := range e.Beneficiaries {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateBeneficiary, id)
		}
		seen[id] = struct{}{}
	}
	if cs, ok := e.Split.(CustomSplit); ok {
		var sum int64
		for _, id := range e.Beneficiaries {
			v := cs.Shares[id]
			if v < 0 {
				return fmt.Errorf("%w: %s", ErrNegativeShare, id)
			}
			if v > MaxAmount {
				return fmt.Errorf("%w: share for %s exceeds %d", ErrInvalidAmount, id, MaxAmount)
			}
			sum += v
		}
		if sum != e.Amount {
			return fmt.Errorf("%w: shares %d, amount %d", ErrSharesMismatch, sum, e.Amount)
		}
	}
	return nil
}
