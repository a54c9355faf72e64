package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTokenABISelectors(t *testing.T) {
	proxy := common.HexToAddress("0x2240dab907db71e64d3e0dba4800c83b5c502d4e")

	tests := []struct {
		name   string
		args   []interface{}
		prefix string
		size   int
	}{
		{"deposit", nil, "d0e30db0", 4},
		{"approve", []interface{}{proxy, UnlimitedAllowance}, "095ea7b3", 68},
		{"allowance", []interface{}{proxy, proxy}, "dd62ed3e", 68},
		{"balanceOf", []interface{}{proxy}, "70a08231", 36},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tokenABI.Pack(tt.name, tt.args...)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			if got := hex.EncodeToString(data[:4]); got != tt.prefix {
				t.Errorf("selector = %s, want %s", got, tt.prefix)
			}
			if len(data) != tt.size {
				t.Errorf("calldata length = %d, want %d", len(data), tt.size)
			}
		})
	}
}

func TestNeedsApproval(t *testing.T) {
	if !NeedsApproval(nil) {
		t.Error("nil allowance should need approval")
	}
	if !NeedsApproval(big.NewInt(0)) {
		t.Error("zero allowance should need approval")
	}
	almost := new(big.Int).Sub(UnlimitedAllowance, big.NewInt(1))
	if !NeedsApproval(almost) {
		t.Error("spent allowance should need approval")
	}
	if NeedsApproval(new(big.Int).Set(UnlimitedAllowance)) {
		t.Error("unlimited allowance should not need approval")
	}
}
