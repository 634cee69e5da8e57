// Package wallet holds the escrow deposit addresses, one per supported
// currency, and checks that configured addresses are well formed.
package wallet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Book maps each supported currency to its deposit address. It is built
// once at startup and read-only afterwards.
type Book struct {
	addrs map[domain.Currency]string
}

// NewBook validates addrs and returns a Book. Every currency in
// domain.SupportedCurrencies must be present.
func NewBook(addrs map[domain.Currency]string) (*Book, error) {
	var errs []string
	book := &Book{addrs: make(map[domain.Currency]string, len(addrs))}

	for _, c := range domain.SupportedCurrencies {
		addr := strings.TrimSpace(addrs[c])
		if addr == "" {
			errs = append(errs, fmt.Sprintf("%s: %v", c, domain.ErrNoWallet))
			continue
		}
		if err := Validate(c, addr); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		book.addrs[c] = addr
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("wallet: %s", strings.Join(errs, "; "))
	}
	return book, nil
}

// AddressFor returns the deposit address for c.
func (b *Book) AddressFor(c domain.Currency) (string, bool) {
	addr, ok := b.addrs[c]
	return addr, ok
}

// Validate checks that addr is a mainnet receive address for c. Bitcoin
// and Litecoin addresses are decoded and their checksums verified; Monero
// addresses get a shape check.
func Validate(c domain.Currency, addr string) error {
	switch c {
	case domain.CurrencyBTC:
		return validateUTXO(c, addr, &chaincfg.MainNetParams)
	case domain.CurrencyLTC:
		return validateLTC(addr)
	case domain.CurrencyXMR:
		if isBase58(addr, 95, 95, "48") || isBase58(addr, 106, 106, "4") {
			return nil
		}
		return fmt.Errorf("%s: malformed address %q", c, addr)
	case domain.CurrencyETH:
		return validateETH(addr)
	default:
		return fmt.Errorf("%s: unsupported currency", c)
	}
}

// validateUTXO decodes addr against params and requires it to belong to
// that network.
func validateUTXO(c domain.Currency, addr string, params *chaincfg.Params) error {
	// Bech32 may be all upper case; btcutil matches the HRP in lower case.
	if strings.ToUpper(addr) == addr && strings.HasPrefix(strings.ToLower(addr), params.Bech32HRPSegwit+"1") {
		addr = strings.ToLower(addr)
	}
	a, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("%s: malformed address %q: %w", c, addr, err)
	}
	if !a.IsForNet(params) {
		return fmt.Errorf("%s: address %q belongs to another network", c, addr)
	}
	return nil
}

// validateETH accepts all-lower or all-upper hex, and mixed case only when
// it matches the EIP-55 checksum.
func validateETH(addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("%s: malformed address %q", domain.CurrencyETH, addr)
	}
	body := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return nil
	}
	if common.HexToAddress(addr).Hex() != "0x"+body {
		return fmt.Errorf("%s: address %q fails EIP-55 checksum", domain.CurrencyETH, addr)
	}
	return nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// isBase58 checks Monero's address shape. Monero's base58 is block-encoded
// with a Keccak checksum, which btcutil cannot decode.

func isBase58(s string, minLen, maxLen int, leading string) bool {
	if len(s) < minLen || len(s) > maxLen || !strings.ContainsRune(leading, rune(s[0])) {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}
