package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// ltcMainNet carries the Litecoin mainnet address and key prefixes; the
// rest of chaincfg.Params is left empty.
var ltcMainNet = chaincfg.Params{
	Name:             "litecoin",
	Net:              0xdbb6c0fb,
	Bech32HRPSegwit:  "ltc",
	PubKeyHashAddrID: 0x30, // L
	ScriptHashAddrID: 0x32, // M
	PrivateKeyID:     0xb0,
	HDPrivateKeyID:   [4]byte{0x01, 0x9d, 0x9c, 0xfe}, // Ltpv
	HDPublicKeyID:    [4]byte{0x01, 0x9d, 0xa4, 0x62}, // Ltub
}

// ltcLegacyScriptHashID is the P2SH version byte Litecoin used before M
// addresses. It collides with Bitcoin's, so it is checked by hand.
const ltcLegacyScriptHashID = 0x05

// errLTCRegister is set when ltcMainNet could not be registered with
// chaincfg, which btcutil needs to recognise the "ltc1" segwit prefix.
// chaincfg's registry is not synchronised, so this runs during package init.
var errLTCRegister = registerLitecoin()

func registerLitecoin() error {
	if err := chaincfg.Register(&ltcMainNet); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
		return fmt.Errorf("wallet: register litecoin params: %w", err)
	}
	return nil
}

func validateLTC(addr string) error {
	if errLTCRegister != nil {
		return errLTCRegister
	}
	if payload, version, err := base58.CheckDecode(addr); err == nil &&
		version == ltcLegacyScriptHashID && len(payload) == 20 {
		return nil
	}
	return validateUTXO(domain.CurrencyLTC, addr, &ltcMainNet)
}
