package escrow

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Step is the current state of a Session.
type Step int

const (
	StepChoosingRole Step = iota
	StepCounterpartyID
	StepTradeTerms
	StepSelectCurrency
	StepEnterAmount
	StepConfirmTrade
)

func (s Step) String() string {
	switch s {
	case StepChoosingRole:
		return "choosing_role"
	case StepCounterpartyID:
		return "counterparty_id"
	case StepTradeTerms:
		return "trade_terms"
	case StepSelectCurrency:
		return "select_currency"
	case StepEnterAmount:
		return "enter_amount"
	case StepConfirmTrade:
		return "confirm_trade"
	default:
		return "unknown"
	}
}

// InputKind separates button selections from typed text.
type InputKind int

const (
	InputChoice InputKind = iota + 1
	InputText
)

func (k InputKind) String() string {
	if k == InputChoice {
		return "choice"
	}
	return "text"
}

// Input is one submission from the session owner.
type Input struct {
	Kind  InputKind
	Value string
}

// Choice wraps a button payload.
func Choice(v string) Input { return Input{Kind: InputChoice, Value: v} }

// Text wraps a typed message.
func Text(v string) Input { return Input{Kind: InputText, Value: v} }

// Effect is a side effect a transition asks its caller to perform.
type Effect int

const (
	EffectNone Effect = iota
	EffectCreateTrade
)

// Session is the scratch state of one party assembling a trade. It is owned
// by that party's conversation and never shared.
type Session struct {
	Owner     domain.PartyID
	OwnerName string
	Step      Step

	Role         domain.Role
	Counterparty domain.PartyID
	Terms        string
	Currency     domain.Currency
	Amount       decimal.Decimal

	// TradeID is set once the session has been promoted.
	TradeID string
}

// NewSession starts a collection at StepChoosingRole.
func NewSession(owner domain.PartyID, ownerName string) *Session {
	return &Session{Owner: owner, OwnerName: ownerName, Step: StepChoosingRole}
}

// Params converts a session that has reached EffectCreateTrade into
// registry parameters.
func (s Session) Params() CreateParams {
	return CreateParams{
		InitiatorID:    s.Owner,
		InitiatorName:  s.OwnerName,
		CounterpartyID: s.Counterparty,
		InitiatorRole:  s.Role,
		Currency:       s.Currency,
		Amount:         s.Amount,
		Terms:          s.Terms,
	}
}

type transition struct {
	accepts InputKind
	apply   func(s Session, v string) (Session, Effect, error)
}

var transitions = map[Step]transition{
	StepChoosingRole: {InputChoice, func(s Session, v string) (Session, Effect, error) {
		role, err := domain.ParseRole(v)
		if err != nil {
			return s, EffectNone, invalid(StepChoosingRole, "pick buyer or seller", err)
		}
		s.Role = role
		s.Step = StepCounterpartyID
		return s, EffectNone, nil
	}},
	StepCounterpartyID: {InputText, func(s Session, v string) (Session, Effect, error) {
		id, err := domain.ParsePartyID(v)
		if err != nil {
			return s, EffectNone, invalid(StepCounterpartyID, "the counterparty id must be a number", err)
		}
		if id == s.Owner {
			return s, EffectNone, invalid(StepCounterpartyID, "you cannot open a trade with yourself", nil)
		}
		s.Counterparty = id
		s.Step = StepTradeTerms
		return s, EffectNone, nil
	}},
	StepTradeTerms: {InputText, func(s Session, v string) (Session, Effect, error) {
		terms := strings.TrimSpace(v)
		if terms == "" {
			return s, EffectNone, invalid(StepTradeTerms, "terms cannot be empty", nil)
		}
		if n := utf8.RuneCountInString(terms); n > MaxTermsLength {
			return s, EffectNone, invalid(StepTradeTerms,
				fmt.Sprintf("terms are limited to %d characters, yours have %d", MaxTermsLength, n), nil)
		}
		s.Terms = terms
		s.Step = StepSelectCurrency
		return s, EffectNone, nil
	}},
	StepSelectCurrency: {InputChoice, func(s Session, v string) (Session, Effect, error) {
		c, err := domain.ParseCurrency(v)
		if err != nil {
			return s, EffectNone, invalid(StepSelectCurrency, "pick one of the listed currencies", err)
		}
		s.Currency = c
		s.Step = StepEnterAmount
		return s, EffectNone, nil
	}},
	StepEnterAmount: {InputText, func(s Session, v string) (Session, Effect, error) {
		amount, err := domain.ParseAmount(v)
		if err != nil {
			return s, EffectNone, invalid(StepEnterAmount, "enter a positive number like 0.05, with at most 8 decimal places", err)
		}
		s.Amount = amount
		s.Step = StepConfirmTrade
		return s, EffectCreateTrade, nil
	}},
}

// MaxTermsLength caps the trade terms in characters, so every message that
// quotes them stays under Telegram's 4096 character limit.
const MaxTermsLength = 1000

var errWrongInput = errors.New("unexpected input")

// Advance is the pure transition function of the collector. On error the
// returned session equals s, so the same step is prompted again.
func Advance(s Session, in Input) (Session, Effect, error) {
	if s.Step == StepConfirmTrade {
		return s, EffectNone, ErrSessionFinished
	}
	tr, ok := transitions[s.Step]
	if !ok {
		return s, EffectNone, invalid(s.Step, "unknown step", nil)
	}
	if in.Kind != tr.accepts {
		reason := "please use the buttons above"
		if tr.accepts == InputText {
			reason = "please type your answer"
		}
		return s, EffectNone, invalid(s.Step, reason, errWrongInput)
	}
	next, eff, err := tr.apply(s, in.Value)
	if err != nil {
		return s, EffectNone, err
	}
	return next, eff, nil
}
