package settlement

import "time"

// InvoiceStatus moves from pending to settled and never back.
type InvoiceStatus string

const (
	StatusPending InvoiceStatus = "pending"
	StatusSettled InvoiceStatus = "settled"
)

// Invoice is one side of a split payment.
type Invoice struct {
	Address        string `json:"address"`
	AmountMsat     int64  `json:"amount_msat"`
	PaymentRequest string `json:"payment_request"`
	VerifyURL      string `json:"verify_url"`
}

// SplitInvoices is the result of CreateSplitInvoices. StatusToken authorizes
// later status polls for exactly these two verify URLs.
type SplitInvoices struct {
	InvoiceA    Invoice `json:"invoice_a"`
	InvoiceB    Invoice `json:"invoice_b"`
	StatusToken string  `json:"status_token"`
}

// Cell is the settlement status of one invoice as last observed.
type Cell struct {
	VerifyURL string        `json:"verify_url"`
	Status    InvoiceStatus `json:"status"`
}

func (c Cell) Settled() bool {
	return c.Status == StatusSettled
}

// SettlementState joins two cells. It is recomputed on every poll and never stored.
type SettlementState struct {
	InvoiceA       Cell      `json:"invoice_a"`
	InvoiceB       Cell      `json:"invoice_b"`
	JointlySettled bool      `json:"jointly_settled"`
	CheckedAt      time.Time `json:"checked_at"`
}

// SettledEvent is published when joint settlement is observed.
type SettledEvent struct {
	VerifyA   string    `json:"verify_a"`
	VerifyB   string    `json:"verify_b"`
	SettledAt time.Time `json:"settled_at"`
}

// IdempotencyKey identifies the invoice pair, so concurrent awaiters of the same
// split publish one event.
func (e SettledEvent) IdempotencyKey() string {
	return e.VerifyA + "|" + e.VerifyB
}

func newState(a, b Cell, at time.Time) *SettlementState {
	return &SettlementState{
		InvoiceA:       a,
		InvoiceB:       b,
		JointlySettled: a.Settled() && b.Settled(),
		CheckedAt:      at,
	}
}

func statusOf(settled bool) InvoiceStatus {
	if settled {
		return StatusSettled
	}
	return StatusPending
}
