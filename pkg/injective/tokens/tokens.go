// Package tokens is the registry of tokens known to the agent.
package tokens

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NativeAddress stands in for the chain's native INJ, which has no contract.
const NativeAddress = "0x0"

// Token describes a fungible token.
type Token struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// IsNative reports whether t is the native token.
func (t Token) IsNative() bool {
	return t.Address == NativeAddress
}

// ToBaseUnits scales a human amount to integer base units, truncating
// anything below one base unit.
func (t Token) ToBaseUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(t.Decimals).Truncate(0)
}

// FromBaseUnits scales integer base units to a human amount.
func (t Token) FromBaseUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(-t.Decimals)
}

var defaultTokens = []Token{
	{
		ID:       "injective_native_inj",
		Address:  NativeAddress,
		Name:     "Injective native token",
		Symbol:   "INJ",
		Decimals: 18,
	},
	{
		ID:       "injective_0x0000000088827d2d103ee2d9A6b781773AE03FfB",
		Address:  "0x0000000088827d2d103ee2d9A6b781773AE03FfB",
		Name:     "Wrapped INJ",
		Symbol:   "WINJ",
		Decimals: 18,
	},
}

// Registry resolves tokens by symbol or address. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	bySymbol  map[string]Token
	byAddress map[string]Token
}

// NewRegistry builds a registry from tokens. Later entries win on conflicts.
func NewRegistry(tokens ...Token) (*Registry, error) {
	r := &Registry{
		bySymbol:  make(map[string]Token, len(tokens)),
		byAddress: make(map[string]Token, len(tokens)),
	}
	for _, t := range tokens {
		if t.Symbol == "" {
			return nil, fmt.Errorf("token %q has no symbol", t.ID)
		}
		if t.Address != NativeAddress && !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("token %s has invalid address %q", t.Symbol, t.Address)
		}
		r.bySymbol[symbolKey(t.Symbol)] = t
		r.byAddress[strings.ToLower(t.Address)] = t
	}
	return r, nil
}

// Default returns the built-in INJ and WINJ registry.
func Default() *Registry {
	r, err := NewRegistry(defaultTokens...)
	if err != nil {
		panic(err)
	}
	return r
}

// BySymbol looks a token up by symbol, case-insensitively. Compatibility
// forms such as full-width letters match their plain equivalents.
func (r *Registry) BySymbol(symbol string) (Token, error) {
	t, ok := r.bySymbol[symbolKey(symbol)]
	if !ok {
		return Token{}, fmt.Errorf("token not found: %s", symbol)
	}
	return t, nil
}

// ByAddress looks a token up by 0x address, ignoring checksum case.
func (r *Registry) ByAddress(address string) (Token, error) {
	t, ok := r.byAddress[strings.ToLower(strings.TrimSpace(address))]
	if !ok {
		return Token{}, fmt.Errorf("token not found: %s", address)
	}
	return t, nil
}

// Lookup accepts either a symbol or an address.
func (r *Registry) Lookup(ref string) (Token, error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(ref)), "0x") {
		return r.ByAddress(ref)
	}
	return r.BySymbol(ref)
}

// All returns the tokens sorted by symbol.
func (r *Registry) All() []Token {
	out := make([]Token, 0, len(r.bySymbol))
	for _, t := range r.bySymbol {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func symbolKey(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}
