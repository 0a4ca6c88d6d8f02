package domain

import (
	"testing"
	"time"

	"github.com/smallbiznis/finvo/internal/lifecycle"
	"github.com/stretchr/testify/assert"
)

func TestQuoteHappyPath(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	q := Quote{Status: QuoteStatusDraft}

	q, err := Estimate(q, now)
	assert.NoError(t, err)
	assert.Equal(t, QuoteStatusEstimated, q.Status)

	q, err = Send(q, now)
	assert.NoError(t, err)
	assert.Equal(t, QuoteStatusSent, q.Status)
	assert.Equal(t, now, *q.SentAt)

	q, err = View(q, now)
	assert.NoError(t, err)
	assert.Equal(t, QuoteStatusViewed, q.Status)

	q, err = Accept(q, "buyer@example.com", now)
	assert.NoError(t, err)
	assert.Equal(t, QuoteStatusAccepted, q.Status)
	assert.Equal(t, "buyer@example.com", *q.AcceptedBy)
}

func TestSendSkipsEstimate(t *testing.T) {
	now := time.Now().UTC()

	q, err := Send(Quote{Status: QuoteStatusDraft}, now)
	assert.NoError(t, err)
	assert.Equal(t, QuoteStatusSent, q.Status)
}

func TestAcceptRequiresSentOrViewed(t *testing.T) {
	now := time.Now().UTC()

	_, err := Accept(Quote{Status: QuoteStatusDraft}, "", now)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)

	_, err = Accept(Quote{Status: QuoteStatusEstimated}, "", now)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	now := time.Now().UTC()

	for _, status := range []QuoteStatus{QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired} {
		_, err := Accept(Quote{Status: status}, "", now)
		assert.ErrorIs(t, err, lifecycle.ErrAlreadyTerminal, string(status))

		_, err = Reject(Quote{Status: status}, "", now)
		assert.ErrorIs(t, err, lifecycle.ErrAlreadyTerminal, string(status))

		_, err = Send(Quote{Status: status}, now)
		assert.ErrorIs(t, err, lifecycle.ErrAlreadyTerminal, string(status))
	}
}

func TestDecisionOnLapsedQuote(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	q := Quote{Status: QuoteStatusSent, ValidUntil: &past}

	_, err := Accept(q, "", now)
	assert.ErrorIs(t, err, lifecycle.ErrExpired)

	_, err = Reject(q, "too slow", now)
	assert.ErrorIs(t, err, lifecycle.ErrExpired)
}

func TestViewIsIdempotent(t *testing.T) {
	first := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	q, err := View(Quote{Status: QuoteStatusSent}, first)
	assert.NoError(t, err)
	assert.Equal(t, first, *q.ViewedAt)

	q, err = View(q, second)
	assert.NoError(t, err)
	assert.Equal(t, QuoteStatusViewed, q.Status)
	// First-view timestamp survives repeat views.
	assert.Equal(t, first, *q.ViewedAt)
}

func TestViewOnTerminalQuoteRecordsTimestampOnly(t *testing.T) {
	now := time.Now().UTC()

	q, err := View(Quote{Status: QuoteStatusAccepted}, now)
	assert.NoError(t, err)
	assert.Equal(t, QuoteStatusAccepted, q.Status)
	assert.Equal(t, now, *q.ViewedAt)
}

func TestMarkExpiredRequiresLapsedWindow(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	_, err := MarkExpired(Quote{Status: QuoteStatusSent, ValidUntil: &future}, now)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)

	q, err := MarkExpired(Quote{Status: QuoteStatusSent, ValidUntil: &past}, now)
	assert.NoError(t, err)
	assert.Equal(t, QuoteStatusExpired, q.Status)

	_, err = MarkExpired(q, now)
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyTerminal)
}
