// Package domain defines the core marketplace entities (listings, bids,
// credits, refunds) and the interfaces the service layer depends on.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Account identifies a marketplace participant by their checksummed hex
// address. Produce values with ParseAccount; an Account built any other way
// may not compare equal to its canonical form.
type Account string

// ZeroAccount is the absent/unset account value.
const ZeroAccount Account = ""

// ParseAccount validates and canonicalizes a hex address string.
func ParseAccount(s string) (Account, error) {
	if !common.IsHexAddress(s) {
		return ZeroAccount, fmt.Errorf("%w: %q", ErrInvalidAccount, s)
	}
	return Account(common.HexToAddress(s).Hex()), nil
}

// MustAccount is ParseAccount for tests and constants; it panics on invalid
// input.
func MustAccount(s string) Account {
	a, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the account is unset.
func (a Account) IsZero() bool {
	return a == ZeroAccount
}

// String returns the checksummed address.
func (a Account) String() string {
	return string(a)
}
