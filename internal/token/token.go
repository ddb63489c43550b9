// Package token validates token mint addresses and applies the optional
// whitelist of tradable tokens.
package token

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidAddress = errors.New("token: invalid mint address")
	ErrNotWhitelisted = errors.New("token: not on the whitelist")
)

// mintRegex matches a base58-encoded Solana mint address. Base58 excludes
// 0, O, I and l; mints are 32-44 characters.
var mintRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// Validate checks that address is a well-formed mint address.
func Validate(address string) error {
	if !mintRegex.MatchString(address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

// Whitelist is the set of tokens the engine accepts bets on. An empty
// whitelist allows any well-formed address.
type Whitelist map[string]bool

// NewWhitelist builds a whitelist from a list of mint addresses.
func NewWhitelist(addresses []string) Whitelist {
	wl := make(Whitelist, len(addresses))
	for _, a := range addresses {
		wl[a] = true
	}
	return wl
}

// Check validates the address format and, for a non-empty whitelist,
// membership.
func (w Whitelist) Check(address string) error {
	if err := Validate(address); err != nil {
		return err
	}
	if len(w) > 0 && !w[address] {
		return fmt.Errorf("%w: %s", ErrNotWhitelisted, address)
	}
	return nil
}
