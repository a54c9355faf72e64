package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// EIP55 computes the checksummed hex address string from 20-byte raw address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		if c >= '0' && c <= '9' {
			out[2+i] = c
			continue
		}
		// each hex char maps to one nibble of the hash
		nibble := hash[i>>1] & 0x0f
		if i%2 == 0 {
			nibble = hash[i>>1] >> 4
		}
		if nibble >= 8 {
			c -= 'a' - 'A'
		}
		out[2+i] = c
	}
	return string(out)
}

// ValidateAddress accepts a 0x-prefixed 20-byte hex address. All-lower and
// all-upper forms carry no checksum; mixed case must match EIP-55.
func ValidateAddress(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("address %q: missing 0x prefix", s)
	}
	body := s[2:]
	raw, err := hex.DecodeString(body)
	if err != nil || len(raw) != 20 {
		return fmt.Errorf("address %q: not 20 hex bytes", s)
	}
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return nil
	}
	if want := EIP55(raw); want[2:] != body {
		return fmt.Errorf("address %q: bad checksum, want %s", s, want)
	}
	return nil
}

// NormalizeAddress validates s and returns its lowercase form, the form
// relays index addresses by.
func NormalizeAddress(s string) (string, error) {
	if err := ValidateAddress(s); err != nil {
		return "", err
	}
	return "0x" + strings.ToLower(s[2:]), nil
}
