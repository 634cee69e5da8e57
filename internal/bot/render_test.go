package bot

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/escrow"
)

func renderTrade(id, amount, terms string) domain.Trade {
	a := decimal.RequireFromString(amount)
	fee, total := domain.ComputeFee(a)
	return domain.Trade{
		ID:               id,
		InitiatorID:      domain.PartyID(alice),
		CounterpartyID:   domain.PartyID(bob),
		InitiatorRole:    domain.RoleBuyer,
		Currency:         domain.CurrencyBTC,
		Amount:           a,
		Fee:              fee,
		Total:            total,
		Terms:            terms,
		InitiatorName:    "alice",
		CounterpartyName: "bob",
	}
}

func runes(s string) int { return utf8.RuneCountInString(s) }

func TestClip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a &amp; b", clip("a & b", 20))
	assert.Equal(t, "abc…", clip("abcdefgh", 4))
	// An escape sequence is never split.
	assert.Equal(t, "a…", clip("a&&&", 6))
	assert.LessOrEqual(t, runes(clip(strings.Repeat("&", 1000), termsShown)), termsShown)
}

func TestRender_MaxLengthTermsFitOneMessage(t *testing.T) {
	t.Parallel()

	for _, terms := range []string{
		strings.Repeat("x", escrow.MaxTermsLength),
		strings.Repeat("é", escrow.MaxTermsLength),
		strings.Repeat("&", escrow.MaxTermsLength),
		strings.Repeat("<b>", escrow.MaxTermsLength/3),
	} {
		tr := renderTrade("ABCDEFGH", "1.5", terms)

		assert.LessOrEqual(t, runes(summaryReply(tr).text), maxMessageRunes)
		for _, kind := range []escrow.NoticeKind{
			escrow.NoticePaymentInstructions,
			escrow.NoticeApprovalRequested,
			escrow.NoticeFullyApproved,
		} {
			n := escrow.Notice{Kind: kind, Trade: tr, From: "@alice", WalletAddress: "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"}
			assert.LessOrEqual(t, runes(renderNotice(n, domain.PartyID(bob)).text), maxMessageRunes, "notice %v", kind)
		}
	}
}

func TestMyTradesReply_SplitsLongListings(t *testing.T) {
	t.Parallel()

	var trades []domain.Trade
	for i := range 40 {
		trades = append(trades, renderTrade(fmt.Sprintf("TRADE%03d", i), "2", strings.Repeat("&", escrow.MaxTermsLength)))
	}

	replies := myTradesReply(trades, domain.PartyID(alice))
	require.Greater(t, len(replies), 1)

	var all strings.Builder
	for _, r := range replies {
		assert.LessOrEqual(t, runes(r.text), maxMessageRunes)
		all.WriteString(r.text)
	}
	for _, tr := range trades {
		assert.Equal(t, 1, strings.Count(all.String(), tr.ID), tr.ID)
	}
	assert.True(t, strings.HasPrefix(replies[0].text, header))
}

func TestMyTradesReply_Empty(t *testing.T) {
	t.Parallel()

	replies := myTradesReply(nil, domain.PartyID(alice))
	require.Len(t, replies, 1)
	assert.Equal(t, "You have no active trades.", replies[0].text)
}

func TestRender_TotalShownExactly(t *testing.T) {
	t.Parallel()

	for _, amount := range []string{"0.00000001", "0.00000049", "123.45678901", "0.1", "999999.99999999"} {
		tr := renderTrade("ABCDEFGH", amount, "terms")
		shown := fixed(tr.Total)
		assert.True(t, decimal.RequireFromString(shown).Equal(tr.Total), "%s: shown %s, total %s", amount, shown, tr.Total)

		n := escrow.Notice{Kind: escrow.NoticePaymentInstructions, Trade: tr, WalletAddress: "addr"}
		assert.Contains(t, renderNotice(n, domain.PartyID(alice)).text, "<code>"+shown+"</code>")
	}
}
