package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/escrow"
	"github.com/alanyoungcy/escrowbot/internal/platform/telegram"
)

// Callback payload prefixes. Trade-bound payloads carry the trade id after
// the underscore.
const (
	cbRole     = "role_"
	cbCurrency = "cur_"
	cbConfirm  = "confirm_"
	cbSent     = "sent_"
)

const header = "🔒 <b>Escrow</b>\n\n"

// reply is a rendered outbound message.
type reply struct {
	text   string
	markup *telegram.InlineKeyboardMarkup
}

// maxMessageRunes is Telegram's sendMessage text limit.
const maxMessageRunes = 4096

// Escaped terms budgets. Single-trade messages show terms nearly whole;
// the listing shows a preview per trade.
const (
	termsShown   = 2000
	termsPreview = 200
)

func esc(s string) string { return html.EscapeString(s) }

// clip escapes s, cutting it so the escaped text stays within limit runes.
// A cut is marked with an ellipsis.
func clip(s string, limit int) string {
	out := esc(s)
	if utf8.RuneCountInString(out) <= limit {
		return out
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		e := esc(string(r))
		w := utf8.RuneCountInString(e)
		if n+w > limit-1 {
			break
		}
		b.WriteString(e)
		n += w
	}
	b.WriteString("…")
	return b.String()
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(domain.AmountScale)
}

func welcomeReply() reply {
	return reply{text: header +
		"Secure cryptocurrency trades between buyers and sellers.\n\n" +
		"Commands:\n" +
		"/escrow - start a new trade\n" +
		"/info - how it works\n" +
		"/my_trades - view your active trades\n" +
		"/cancel - abandon the trade you are setting up"}
}

func infoReply() reply {
	pct := domain.FeeRate.Shift(2).String()
	return reply{text: header +
		"ℹ️ <b>How this works</b>\n\n" +
		"1. Both parties start the bot\n" +
		"2. Agree on terms outside the bot\n" +
		"3. One party starts a trade with /escrow\n" +
		"4. Both parties approve the trade\n" +
		"5. The buyer pays into escrow\n" +
		"6. The seller delivers\n" +
		"7. Escrow releases the payment\n\n" +
		"🔒 " + pct + "% escrow fee, paid by the buyer\n" +
		"⏳ Trades idle for 24 hours are closed"}
}

func rolePrompt() reply {
	return reply{
		text: header + "Select your role in this trade:",
		markup: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			telegram.Button("👨‍💼 Buyer", cbRole+string(domain.RoleBuyer)),
			telegram.Button("👩‍💼 Seller", cbRole+string(domain.RoleSeller)),
		}}},
	}
}

func currencyKeyboard() *telegram.InlineKeyboardMarkup {
	var rows [][]telegram.InlineKeyboardButton
	var row []telegram.InlineKeyboardButton
	for _, c := range domain.SupportedCurrencies {
		row = append(row, telegram.Button(string(c), cbCurrency+string(c)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// promptFor renders the question asked at the session's current step.
func promptFor(s escrow.Session) reply {
	switch s.Step {
	case escrow.StepChoosingRole:
		return rolePrompt()
	case escrow.StepCounterpartyID:
		return reply{text: header + fmt.Sprintf(
			"You're the %s. Enter the other party's numeric Telegram ID.\n"+
				"(They can get it from @userinfobot. Yours is <code>%d</code>.)",
			esc(s.Role.Title()), s.Owner)}
	case escrow.StepTradeTerms:
		return reply{text: header + "Describe the trade in detail:\n\n" +
			"(This is what an operator reads if something goes wrong.)"}
	case escrow.StepSelectCurrency:
		return reply{text: header + "Select the cryptocurrency for payment:", markup: currencyKeyboard()}
	case escrow.StepEnterAmount:
		return reply{text: header + fmt.Sprintf("Selected: %s\nFee: %s%%\n\nEnter the amount of %s for this trade:",
			s.Currency, domain.FeeRate.Shift(2).StringFixed(2), s.Currency)}
	default:
		return reply{text: header + "This trade has been created. Use /my_trades to see it."}
	}
}

func validationReply(err error, s escrow.Session) reply {
	reason := "that input was not accepted"
	var ve *escrow.ValidationError
	if errors.As(err, &ve) {
		reason = ve.Reason
	}
	p := promptFor(s)
	p.text = "❌ " + esc(capitalize(reason)) + "\n\n" + p.text
	return p
}

func summaryReply(t domain.Trade) reply {
	return reply{
		text: header + fmt.Sprintf(
			"🔄 Trade ID: <code>%s</code>\n"+
				"👤 Your role: %s\n"+
				"🤝 Counterparty: <code>%d</code>\n"+
				"💰 Amount: %s %s\n"+
				"📝 Terms: %s\n"+
				"💸 Fee: %s %s\n"+
				"💵 Total: %s %s\n\n"+
				"Please confirm the details:",
			t.ID, esc(t.InitiatorRole.Title()), t.CounterpartyID,
			t.Amount, t.Currency, clip(t.Terms, termsShown),
			fixed(t.Fee), t.Currency, fixed(t.Total), t.Currency),
		markup: telegram.Keyboard(telegram.Button("✅ Confirm", cbConfirm+t.ID)),
	}
}

func approvedEcho(t domain.Trade, handle string) reply {
	return reply{text: header + fmt.Sprintf(
		"✅ You (%s) approved trade <code>%s</code>.\n\n"+
			"Payment instructions go to the buyer once they approve. "+
			"Funds are held until both parties approve.",
		esc(handle), t.ID)}
}

func paymentReceipt(t domain.Trade, at time.Time) reply {
	return reply{text: fmt.Sprintf(
		"✅ <b>Payment reported as sent</b>\n\n"+
			"• Amount: <code>%s</code> %s\n"+
			"• Trade ID: <code>%s</code>\n"+
			"• Time: %s\n\n"+
			"<i>The blockchain transaction is being confirmed.</i>",
		fixed(t.Total), t.Currency, t.ID, at.UTC().Format("15:04 MST"))}
}

func tradeGoneReply(id string) reply {
	return reply{text: fmt.Sprintf("❌ Trade %s no longer exists.", esc(id))}
}

// renderNotice turns a core notice into chat text for recipient to.
func renderNotice(n escrow.Notice, to domain.PartyID) reply {
	t := n.Trade
	switch n.Kind {
	case escrow.NoticePaymentInstructions:
		return reply{
			text: header + fmt.Sprintf(
				"💰 <b>Ready to pay for trade %s</b>\n\n"+
					"Please send <code>%s</code> %s to:\n<code>%s</code>\n\n"+
					"Seller: %s\n"+
					"Terms: %s\n\n"+
					"⚠️ Funds are held in escrow until the seller approves.\n"+
					"<b>Note:</b> when sending from an exchange, withdraw this amount <b>plus the exchange's fee</b>.\n\n"+
					"<b>Deposit first, then press Payment Sent.</b>",
				t.ID, fixed(t.Total), t.Currency, esc(n.WalletAddress),
				esc(t.NameOf(t.SellerID())), clip(t.Terms, termsShown)),
			markup: telegram.Keyboard(telegram.Button("✅ Payment Sent", cbSent+t.ID)),
		}
	case escrow.NoticeFullyApproved:
		return reply{text: header + fmt.Sprintf(
			"✅ <b>Trade %s fully approved!</b>\n\n"+
				"Buyer %s has the payment instructions.\n"+
				"Amount: %s %s\n\n"+
				"You'll be notified when payment is received.",
			t.ID, esc(t.NameOf(t.BuyerID())), fixed(t.Total), t.Currency)}
	case escrow.NoticeApprovalRequested:
		role, _ := t.RoleOf(to)
		return reply{
			text: header + fmt.Sprintf(
				"⚠️ Trade <code>%s</code> awaiting your approval!\n"+
					"From: %s\n"+
					"Your role: %s\n\n"+
					"Amount: %s %s\n"+
					"Total with fee: %s %s\n"+
					"Terms: %s\n\n"+
					"Please approve this trade:",
				t.ID, esc(n.From), esc(role.Title()),
				t.Amount, t.Currency, fixed(t.Total), t.Currency, clip(t.Terms, termsShown)),
			markup: telegram.Keyboard(telegram.Button("✅ Approve Trade", cbConfirm+t.ID)),
		}
	case escrow.NoticePaymentAcknowledged:
		return reply{text: "🔍 Payment verification started. Both parties will be notified when it is confirmed."}
	case escrow.NoticeTradeExpired:
		return reply{text: fmt.Sprintf(
			"❌ Trade %s has expired due to inactivity.\n\nPlease start a new trade if needed.", t.ID)}
	default:
		return reply{text: fmt.Sprintf("Trade %s was updated.", t.ID)}
	}
}

// myTradesReply lists the party's trades, one entry per trade, split across
// as many messages as the text limit requires.
func myTradesReply(trades []domain.Trade, p domain.PartyID) []reply {
	if len(trades) == 0 {
		return []reply{{text: "You have no active trades."}}
	}
	const title = header + "📊 <b>Your active trades</b>\n\n"
	var (
		out []reply
		b   strings.Builder
		n   int
	)
	b.WriteString(title)
	n = utf8.RuneCountInString(title)
	for _, t := range trades {
		role, _ := t.RoleOf(p)
		entry := fmt.Sprintf(
			"🆔 Trade ID: <code>%s</code>\n"+
				"👤 Role: %s\n"+
				"💰 Amount: %s %s\n"+
				"🤝 Counterparty: %s\n"+
				"📝 Terms: %s\n"+
				"🔹 Status: %s\n\n",
			t.ID, esc(role.Title()), t.Amount, t.Currency,
			esc(t.NameOf(t.OtherParty(p))), clip(t.Terms, termsPreview), escrow.StatusFor(t, p))
		w := utf8.RuneCountInString(entry)
		if n+w > maxMessageRunes && n > 0 {
			out = append(out, reply{text: strings.TrimRight(b.String(), "\n")})
			b.Reset()
			n = 0
		}
		b.WriteString(entry)
		n += w
	}
	return append(out, reply{text: strings.TrimRight(b.String(), "\n")})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
