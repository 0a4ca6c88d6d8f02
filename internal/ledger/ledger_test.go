package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeBalanceAllowsOverpayment(t *testing.T) {
	assert.Equal(t, int64(500), ComputeBalance(1500, 1000))
	assert.Equal(t, int64(0), ComputeBalance(1000, 1000))
	assert.Equal(t, int64(-250), ComputeBalance(1000, 1250))
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, StatusSent, DeriveStatus(1000, 0, StatusDraft))
	assert.Equal(t, StatusSent, DeriveStatus(1000, -5, StatusSent))
	assert.Equal(t, StatusPartiallyPaid, DeriveStatus(1000, 400, StatusSent))
	assert.Equal(t, StatusPaid, DeriveStatus(1000, 1000, StatusSent))
	assert.Equal(t, StatusPaid, DeriveStatus(1000, 1200, StatusSent))

	// Administrative states always win.
	assert.Equal(t, StatusCancelled, DeriveStatus(1000, 1000, StatusCancelled))
	assert.Equal(t, StatusVoid, DeriveStatus(1000, 0, StatusVoid))
}

func TestApplyPaymentRejectsNonPositiveAmounts(t *testing.T) {
	snap := NewSnapshot(1000, 0, StatusSent)

	_, err := ApplyPayment(snap, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ApplyPayment(snap, -100)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyRefundGuards(t *testing.T) {
	snap := NewSnapshot(1000, 600, StatusSent)

	_, err := ApplyRefund(snap, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ApplyRefund(snap, 700)
	assert.ErrorIs(t, err, ErrRefundExceedsPaid)

	next, err := ApplyRefund(snap, 600)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), next.AmountPaid)
	assert.Equal(t, StatusSent, next.Status)
}

func TestBalanceInvariantHoldsAcrossSequence(t *testing.T) {
	snap := NewSnapshot(113000, 0, StatusSent)

	steps := []struct {
		refund bool
		amount int64
	}{
		{false, 30000},
		{false, 50000},
		{false, 33000},
		{true, 30000},
		{false, 30000},
		{false, 10000}, // overpayment
	}

	for _, step := range steps {
		var err error
		if step.refund {
			snap, err = ApplyRefund(snap, step.amount)
		} else {
			snap, err = ApplyPayment(snap, step.amount)
		}
		assert.NoError(t, err)
		assert.Equal(t, snap.Total-snap.AmountPaid, snap.Balance)

		// Status invariants: never PAID while underpaid, never SENT while paid.
		if snap.AmountPaid < snap.Total {
			assert.NotEqual(t, StatusPaid, snap.Status)
		}
		if snap.AmountPaid > 0 {
			assert.NotEqual(t, StatusSent, snap.Status)
		}
	}

	assert.Equal(t, int64(-10000), snap.Balance)
	assert.Equal(t, StatusPaid, snap.Status)
}

func TestRefundMovesPaidBackToPartiallyPaid(t *testing.T) {
	snap := NewSnapshot(113000, 0, StatusSent)

	snap, err := ApplyPayment(snap, 113000)
	assert.NoError(t, err)
	assert.Equal(t, StatusPaid, snap.Status)
	assert.Equal(t, int64(0), snap.Balance)

	snap, err = ApplyRefund(snap, 30000)
	assert.NoError(t, err)
	assert.Equal(t, StatusPartiallyPaid, snap.Status)
	assert.Equal(t, int64(30000), snap.Balance)
}
