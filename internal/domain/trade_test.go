package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFee(t *testing.T) {
	t.Parallel()

	cases := []struct {
		amount string
		fee    string
		total  string
	}{
		{"1", "0.02", "1.02"},
		{"1.0", "0.02", "1.02"},
		{"0.5", "0.01", "0.51"},
		{"123.456", "2.46912", "125.92512"},
		{"0.00000001", "0", "0.00000001"},
		{"0.00000050", "0.00000001", "0.00000051"},
		{"250000", "5000", "255000"},
	}

	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			amount := decimal.RequireFromString(tc.amount)
			fee, total := ComputeFee(amount)
			assert.True(t, fee.Equal(decimal.RequireFromString(tc.fee)), "fee: got %s want %s", fee, tc.fee)
			assert.True(t, total.Equal(decimal.RequireFromString(tc.total)), "total: got %s want %s", total, tc.total)
			assert.True(t, total.Equal(amount.Add(fee)))
		})
	}
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	good := map[string]string{
		"1":                "1",
		" 0.5 ":            "0.5",
		"0.00000001":       "0.00000001",
		"1000000000000000": "1000000000000000",
	}
	for in, want := range good {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String())
	}

	for _, in := range []string{
		"", "0", "0.0", "-1", "+1", "1e3", "1e100000000", "1E-50", "0.000000001",
		"1000000000000000.1", "1,5", ".5", "5.", "0x10", "NaN",
	} {
		_, err := ParseAmount(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestCheckAmount_BoundsExponent(t *testing.T) {
	t.Parallel()

	assert.Error(t, CheckAmount(decimal.New(1, 100000000)))
	assert.Error(t, CheckAmount(decimal.New(1, -50)))
	assert.NoError(t, CheckAmount(decimal.New(1500000000000, -12)), "trailing zeros beyond the scale are fine")
}

func TestParseCurrency(t *testing.T) {
	t.Parallel()

	for _, c := range SupportedCurrencies {
		got, err := ParseCurrency(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	got, err := ParseCurrency(" btc ")
	require.NoError(t, err)
	assert.Equal(t, CurrencyBTC, got)

	_, err = ParseCurrency("DOGE")
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	r, err := ParseRole("Buyer")
	require.NoError(t, err)
	assert.Equal(t, RoleBuyer, r)
	assert.Equal(t, RoleSeller, r.Opposite())

	_, err = ParseRole("broker")
	assert.Error(t, err)
}

func TestTrade_PartyHelpers(t *testing.T) {
	t.Parallel()

	tr := Trade{
		InitiatorID:    10,
		CounterpartyID: 20,
		InitiatorRole:  RoleSeller,
		InitiatorName:  "alice",
	}

	assert.Equal(t, PartyID(20), tr.BuyerID())
	assert.Equal(t, PartyID(10), tr.SellerID())
	assert.Equal(t, PartyID(10), tr.OtherParty(20))

	role, ok := tr.RoleOf(20)
	require.True(t, ok)
	assert.Equal(t, RoleBuyer, role)

	_, ok = tr.RoleOf(30)
	assert.False(t, ok)
	assert.False(t, tr.IsParticipant(30))

	assert.Equal(t, "alice", tr.NameOf(10))
	assert.Equal(t, "20", tr.NameOf(20))

	tr.CounterpartyApproved = true
	assert.True(t, tr.ApprovedBy(20))
	assert.False(t, tr.FullyApproved())
	tr.InitiatorApproved = true
	assert.True(t, tr.FullyApproved())
}

func TestParsePartyID(t *testing.T) {
	t.Parallel()

	id, err := ParsePartyID(" 123456789 ")
	require.NoError(t, err)
	assert.Equal(t, PartyID(123456789), id)

	_, err = ParsePartyID("@someone")
	assert.Error(t, err)
}
