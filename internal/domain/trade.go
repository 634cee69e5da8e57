package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PartyID identifies a chat participant. For Telegram it is the numeric user
// id, which doubles as the private chat id.
type PartyID int64

// String renders the id the way users type it.
func (p PartyID) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// ParsePartyID parses a user-typed party identifier.
func ParsePartyID(s string) (PartyID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse party id %q: %w", s, err)
	}
	return PartyID(n), nil
}

// Role is the side a party takes in a trade.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// ParseRole converts a button payload into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleBuyer:
		return RoleBuyer, nil
	case RoleSeller:
		return RoleSeller, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Opposite returns the role held by the other party.
func (r Role) Opposite() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

// Title returns the capitalised role name used in chat text.
func (r Role) Title() string {
	switch r {
	case RoleBuyer:
		return "Buyer"
	case RoleSeller:
		return "Seller"
	default:
		return string(r)
	}
}

// Currency is one of the fixed set of assets the escrow accepts.
type Currency string

const (
	CurrencyBTC Currency = "BTC"
	CurrencyLTC Currency = "LTC"
	CurrencyXMR Currency = "XMR"
	CurrencyETH Currency = "ETH"
)

// SupportedCurrencies lists the accepted assets in the order they are offered.
var SupportedCurrencies = []Currency{CurrencyBTC, CurrencyLTC, CurrencyXMR, CurrencyETH}

// ParseCurrency converts a ticker into a supported Currency.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	for _, supported := range SupportedCurrencies {
		if c == supported {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported currency %q", s)
}

// FeeRate is the escrow fee charged on top of the trade amount (2%).
var FeeRate = decimal.New(2, -2)

// AmountScale is the number of decimal places fees are rounded to.
const AmountScale int32 = 8

// MaxAmount bounds a single trade's amount.
var MaxAmount = decimal.New(1, 15)

var plainDecimal = regexp.MustCompile(`^[0-9]{1,16}(\.[0-9]{1,8})?$`)

// ParseAmount parses a trade amount typed by a user. Only plain decimals
// with at most AmountScale fractional digits are accepted; exponent
// notation is refused so a short input cannot expand into a huge number.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !plainDecimal.MatchString(s) {
		return decimal.Decimal{}, fmt.Errorf("amount %q: want a plain number with at most %d decimal places", s, AmountScale)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q: %w", s, err)
	}
	return amount, CheckAmount(amount)
}

// CheckAmount reports whether amount is positive, at most MaxAmount and has
// no more than AmountScale decimal places.
func CheckAmount(amount decimal.Decimal) error {
	switch {
	case !amount.IsPositive():
		return fmt.Errorf("amount must be greater than zero")
	case amount.Exponent() > 15, amount.GreaterThan(MaxAmount):
		return fmt.Errorf("amount must not exceed %s", MaxAmount)
	case amount.Exponent() < -AmountScale && !amount.Equal(amount.Truncate(AmountScale)):
		return fmt.Errorf("amount has more than %d decimal places", AmountScale)
	}
	return nil
}

// ComputeFee returns the escrow fee and the total the buyer has to send.
func ComputeFee(amount decimal.Decimal) (fee, total decimal.Decimal) {
	fee = amount.Mul(FeeRate).Round(AmountScale)
	return fee, amount.Add(fee)
}

// Trade is a single two-party escrow transaction.
type Trade struct {
	ID             string   `json:"id"`
	InitiatorID    PartyID  `json:"initiator_id"`
	CounterpartyID PartyID  `json:"counterparty_id"`
	InitiatorRole  Role     `json:"initiator_role"`
	Currency       Currency `json:"currency"`

	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Total  decimal.Decimal `json:"total"`
	Terms  string          `json:"terms"`

	// Chat handles, refreshed whenever the party acts on the trade.
	InitiatorName    string `json:"initiator_name,omitempty"`
	CounterpartyName string `json:"counterparty_name,omitempty"`

	InitiatorApproved    bool `json:"initiator_approved"`
	CounterpartyApproved bool `json:"counterparty_approved"`
	PaymentAsserted      bool `json:"payment_asserted"`
	Completed            bool `json:"completed"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// IsParticipant reports whether p is the initiator or the counterparty.
func (t Trade) IsParticipant(p PartyID) bool {
	return p == t.InitiatorID || p == t.CounterpartyID
}

// RoleOf returns the role p holds in the trade.
func (t Trade) RoleOf(p PartyID) (Role, bool) {
	switch p {
	case t.InitiatorID:
		return t.InitiatorRole, true
	case t.CounterpartyID:
		return t.InitiatorRole.Opposite(), true
	default:
		return "", false
	}
}

// BuyerID returns the paying party.
func (t Trade) BuyerID() PartyID {
	if t.InitiatorRole == RoleBuyer {
		return t.InitiatorID
	}
	return t.CounterpartyID
}

// SellerID returns the receiving party.
func (t Trade) SellerID() PartyID {
	if t.InitiatorRole == RoleSeller {
		return t.InitiatorID
	}
	return t.CounterpartyID
}

// OtherParty returns the participant that is not p.
func (t Trade) OtherParty(p PartyID) PartyID {
	if p == t.InitiatorID {
		return t.CounterpartyID
	}
	return t.InitiatorID
}

// ApprovedBy reports whether p has approved the trade.
func (t Trade) ApprovedBy(p PartyID) bool {
	switch p {
	case t.InitiatorID:
		return t.InitiatorApproved
	case t.CounterpartyID:
		return t.CounterpartyApproved
	default:
		return false
	}
}

// FullyApproved reports whether both parties have approved.
func (t Trade) FullyApproved() bool {
	return t.InitiatorApproved && t.CounterpartyApproved
}

// NameOf returns the last known chat handle of p, or its numeric id.
func (t Trade) NameOf(p PartyID) string {
	var name string
	switch p {
	case t.InitiatorID:
		name = t.InitiatorName
	case t.CounterpartyID:
		name = t.CounterpartyName
	}
	if name == "" {
		return p.String()
	}
	return name
}
