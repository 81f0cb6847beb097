package services

import (
	"errors"

	"chongmu/internal/core"
	"chongmu/internal/snapshot"
	"chongmu/internal/store"
)

var validationErrors = []error{
	core.ErrEmptyName,
	core.ErrEmptyTitle,
	core.ErrTooLong,
	core.ErrInvalidAmount,
	core.ErrInvalidExchangeRate,
	core.ErrMissingPayer,
	core.ErrNoBeneficiaries,
	core.ErrDuplicateBeneficiary,
	core.ErrNegativeShare,
	core.ErrSharesMismatch,
	core.ErrDuplicateParticipant,
	core.ErrDuplicateExpense,
	core.ErrUnknownPayer,
	core.ErrUnknownBeneficiary,
	snapshot.ErrMalformed,
	snapshot.ErrUnsupportedVersion,
	ErrUnknownSplitMode,
}

var notFoundErrors = []error{
	store.ErrNotFound,
	core.ErrParticipantNotFound,
	core.ErrExpenseNotFound,
}

// IsValidation reports whether err was caused by invalid caller input.
func IsValidation(err error) bool {
	return matchesAny(err, validationErrors)
}

// IsNotFound reports whether err refers to a missing session, participant or expense.
func IsNotFound(err error) bool {
	return matchesAny(err, notFoundErrors)
}

// IsConflict reports whether err is a lost race on the session revision.
func IsConflict(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrExists)
}

func matchesAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
