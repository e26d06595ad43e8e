// Package token validates token mint addresses at the engine's API boundary.
//
// Mints are base58-encoded 32-byte account addresses (Solana convention):
// 32–44 characters from the base58 alphabet, which excludes 0, O, I, and l.
package token

import (
	"errors"
	"fmt"
	"regexp"
)

// mintRegex matches a base58 string of plausible mint length.
var mintRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ErrInvalidMint is returned for a string that cannot be a mint address.
var ErrInvalidMint = errors.New("token: invalid mint address")

// ValidateMint checks that s is a plausible base58 mint address.
func ValidateMint(s string) error {
	if !mintRegex.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidMint, s)
	}
	return nil
}
