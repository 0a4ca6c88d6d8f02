// Package ledger holds the pure money arithmetic of the reconciliation
// core. All amounts are integer minor units; nothing here touches I/O.
package ledger

import "errors"

// Status is the payment-derived invoice state. CANCELLED and VOID are
// administrative and always win over the derived value.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSent          Status = "SENT"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusCancelled     Status = "CANCELLED"
	StatusVoid          Status = "VOID"
)

// Terminal reports whether the status is administratively terminal.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusVoid
}

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrRefundExceedsPaid = errors.New("refund_exceeds_paid")
)

// Snapshot is an invoice's money view. Balance and Status are derived;
// every mutation goes through ApplyPayment/ApplyRefund so the invariant
// Balance == Total - AmountPaid holds after each call.
type Snapshot struct {
	Total      int64
	AmountPaid int64
	Balance    int64
	Status     Status
}

// NewSnapshot derives balance and status for the given amounts.
func NewSnapshot(total, amountPaid int64, explicit Status) Snapshot {
	return Snapshot{
		Total:      total,
		AmountPaid: amountPaid,
		Balance:    ComputeBalance(total, amountPaid),
		Status:     DeriveStatus(total, amountPaid, explicit),
	}
}

// ComputeBalance returns total minus amount paid. There is no floor at
// zero; a negative balance is an overpayment credit.
func ComputeBalance(total, amountPaid int64) int64 {
	return total - amountPaid
}

// DeriveStatus computes the invoice status from its amounts. An explicit
// terminal administrative state is preserved.
func DeriveStatus(total, amountPaid int64, explicit Status) Status {
	if explicit.Terminal() {
		return explicit
	}
	switch {
	case amountPaid <= 0:
		return StatusSent
	case amountPaid < total:
		return StatusPartiallyPaid
	default:
		return StatusPaid
	}
}

// ApplyPayment returns the snapshot after crediting amount against the
// invoice. The input snapshot is not mutated.
func ApplyPayment(snap Snapshot, amount int64) (Snapshot, error) {
	if amount <= 0 {
		return Snapshot{}, ErrInvalidAmount
	}
	return NewSnapshot(snap.Total, snap.AmountPaid+amount, snap.Status), nil
}

// ApplyRefund returns the snapshot after returning amount to the payer.
// Refunds may not exceed what has been paid.
func ApplyRefund(snap Snapshot, amount int64) (Snapshot, error) {
	if amount <= 0 {
		return Snapshot{}, ErrInvalidAmount
	}
	if amount > snap.AmountPaid {
		return Snapshot{}, ErrRefundExceedsPaid
	}
	return NewSnapshot(snap.Total, snap.AmountPaid-amount, snap.Status), nil
}
