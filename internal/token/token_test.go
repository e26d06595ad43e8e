package token

import "testing"

func TestValidateMint_Valid(t *testing.T) {
	// Well-known SPL mint addresses.
	valid := []string{
		"So11111111111111111111111111111111111111112",  // wrapped SOL
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
	}
	for _, m := range valid {
		if err := ValidateMint(m); err != nil {
			t.Errorf("expected %s to be valid, got %v", m, err)
		}
	}
}

func TestValidateMint_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"short",
		"0OIl111111111111111111111111111111111111111", // excluded base58 chars
		"So11111111111111111111111111111111111111112extracharactersbeyondlimit",
	}
	for _, m := range invalid {
		if err := ValidateMint(m); err == nil {
			t.Errorf("expected %q to be rejected", m)
		}
	}
}
