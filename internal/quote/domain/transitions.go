package domain

import (
	"time"

	"github.com/smallbiznis/finvo/internal/lifecycle"
)

// The transition functions below are the only way quote status changes.
// Each returns the complete next quote value; callers persist it as one
// atomic write or not at all.

// Estimate moves a draft into the estimated state.
func Estimate(q Quote, now time.Time) (Quote, error) {
	if q.Status.Terminal() {
		return Quote{}, lifecycle.ErrAlreadyTerminal
	}
	if q.Status != QuoteStatusDraft {
		return Quote{}, lifecycle.ErrInvalidState
	}
	q.Status = QuoteStatusEstimated
	q.UpdatedAt = now
	return q, nil
}

// Send publishes the quote to the customer.
func Send(q Quote, now time.Time) (Quote, error) {
	if q.Status.Terminal() {
		return Quote{}, lifecycle.ErrAlreadyTerminal
	}
	if q.Status != QuoteStatusDraft && q.Status != QuoteStatusEstimated {
		return Quote{}, lifecycle.ErrInvalidState
	}
	q.Status = QuoteStatusSent
	q.SentAt = &now
	q.UpdatedAt = now
	return q, nil
}

// View records the customer opening the quote. Idempotent: once viewed
// or beyond, only the first-view timestamp is preserved.
func View(q Quote, now time.Time) (Quote, error) {
	switch q.Status {
	case QuoteStatusSent:
		q.Status = QuoteStatusViewed
		if q.ViewedAt == nil {
			q.ViewedAt = &now
		}
		q.UpdatedAt = now
		return q, nil
	case QuoteStatusViewed, QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired:
		if q.ViewedAt == nil {
			q.ViewedAt = &now
			q.UpdatedAt = now
		}
		return q, nil
	default:
		return Quote{}, lifecycle.ErrInvalidState
	}
}

// Accept finalizes the quote on behalf of actor.
func Accept(q Quote, actor string, now time.Time) (Quote, error) {
	if err := decisionGuard(q, now); err != nil {
		return Quote{}, err
	}
	q.Status = QuoteStatusAccepted
	q.AcceptedAt = &now
	if actor != "" {
		q.AcceptedBy = &actor
	}
	q.UpdatedAt = now
	return q, nil
}

// Reject declines the quote, optionally with a note.
func Reject(q Quote, note string, now time.Time) (Quote, error) {
	if err := decisionGuard(q, now); err != nil {
		return Quote{}, err
	}
	q.Status = QuoteStatusRejected
	q.RejectedAt = &now
	if note != "" {
		q.RejectionNote = &note
	}
	q.UpdatedAt = now
	return q, nil
}

// MarkExpired moves a pre-terminal quote whose validity window has passed
// into the EXPIRED state. Used by the expiry sweep.
func MarkExpired(q Quote, now time.Time) (Quote, error) {
	if q.Status.Terminal() {
		return Quote{}, lifecycle.ErrAlreadyTerminal
	}
	if !q.Expired(now) {
		return Quote{}, lifecycle.ErrInvalidState
	}
	q.Status = QuoteStatusExpired
	q.UpdatedAt = now
	return q, nil
}

func decisionGuard(q Quote, now time.Time) error {
	if q.Status.Terminal() {
		return lifecycle.ErrAlreadyTerminal
	}
	if q.Status != QuoteStatusSent && q.Status != QuoteStatusViewed {
		return lifecycle.ErrInvalidState
	}
	if q.Expired(now) {
		return lifecycle.ErrExpired
	}
	return nil
}
