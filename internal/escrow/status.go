package escrow

import "github.com/alanyoungcy/escrowbot/internal/domain"

// PartyStatus is what a trade is waiting on, from one party's point of view.
type PartyStatus int

const (
	StatusPaymentVerification PartyStatus = iota + 1
	StatusAwaitingYourPayment
	StatusWaitingForBuyerPayment
	StatusNeedsYourApproval
	StatusWaitingForCounterparty
)

func (s PartyStatus) String() string {
	switch s {
	case StatusPaymentVerification:
		return "Payment verification in progress"
	case StatusAwaitingYourPayment:
		return "Awaiting your payment"
	case StatusWaitingForBuyerPayment:
		return "Waiting for buyer's payment"
	case StatusNeedsYourApproval:
		return "Needs your approval"
	case StatusWaitingForCounterparty:
		return "Waiting for counterparty"
	default:
		return "Unknown"
	}
}

// StatusFor reports the status of t as seen by party p. A payment claim
// wins over approval state.
func StatusFor(t domain.Trade, p domain.PartyID) PartyStatus {
	switch {
	case t.PaymentAsserted:
		return StatusPaymentVerification
	case t.FullyApproved() && t.BuyerID() == p:
		return StatusAwaitingYourPayment
	case t.FullyApproved():
		return StatusWaitingForBuyerPayment
	case !t.ApprovedBy(p):
		return StatusNeedsYourApproval
	default:
		return StatusWaitingForCounterparty
	}
}
