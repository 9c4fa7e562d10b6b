package entities

import (
	"time"

	domainerrors "dotpay.backend/internal/domain/errors"
)

// allowedTransitions is the authoritative lifecycle table. Succeeded and
// refunded are terminal.
var allowedTransitions = map[Status][]Status{
	StatusCreated:          {StatusQuoted, StatusAwaitingUserAuth, StatusFailed},
	StatusQuoted:           {StatusAwaitingUserAuth, StatusMpesaSubmitted, StatusFailed},
	StatusAwaitingUserAuth: {StatusAwaitingFunding, StatusMpesaSubmitted, StatusFailed},
	StatusAwaitingFunding:  {StatusMpesaSubmitted, StatusFailed},
	StatusMpesaSubmitted:   {StatusMpesaProcessing, StatusSucceeded, StatusFailed},
	StatusMpesaProcessing:  {StatusSucceeded, StatusFailed},
	StatusFailed:           {StatusRefundPending, StatusRefunded},
	StatusRefundPending:    {StatusRefunded, StatusFailed},
	StatusSucceeded:        {},
	StatusRefunded:         {},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AssertTransition applies a state transition in memory. A same-state call is
// a no-op; an illegal call fails with a state error. On a real transition it
// appends a history entry and sets the new status; the caller persists both
// atomically with any other mutations.
func AssertTransition(tx *Transaction, to Status, reason, source string) error {
	if tx.Status == to {
		return nil
	}
	if !CanTransition(tx.Status, to) {
		return domainerrors.StateConflict(
			"illegal transition " + string(tx.Status) + " -> " + string(to))
	}

	now := time.Now().UTC()
	tx.History = append(tx.History, HistoryEntry{
		From:   tx.Status,
		To:     to,
		Reason: reason,
		Source: source,
		At:     now,
	})
	tx.Status = to
	tx.UpdatedAt = now
	return nil
}
