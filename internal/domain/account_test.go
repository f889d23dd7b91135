package domain

import (
	"errors"
	"testing"
)

func TestParseAccount(t *testing.T) {
	t.Run("canonicalizes case", func(t *testing.T) {
		lower, err := ParseAccount("0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae")
		if err != nil {
			t.Fatalf("ParseAccount: %v", err)
		}
		upper, err := ParseAccount("0xDE0B295669A9FD93D5F28D9EC85E40F4CB697BAE")
		if err != nil {
			t.Fatalf("ParseAccount: %v", err)
		}
		if lower != upper {
			t.Errorf("case variants should canonicalize equal: %s vs %s", lower, upper)
		}
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, in := range []string{"", "0x123", "not-an-address", "0xzz0b295669a9fd93d5f28d9ec85e40f4cb697bae"} {
			if _, err := ParseAccount(in); !errors.Is(err, ErrInvalidAccount) {
				t.Errorf("ParseAccount(%q) error = %v, want ErrInvalidAccount", in, err)
			}
		}
	})
}

func TestListing_Deadline(t *testing.T) {
	var l Listing
	if l.HasDeadline() {
		t.Error("fresh listing should have no deadline")
	}
}
