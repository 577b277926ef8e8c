package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bardlex/multipool/internal/algo"
)

var fixedNow = time.Unix(0x5f5e1000, 0)

func newTestChecker() *Checker {
	return NewChecker(4, func() time.Time { return fixedNow })
}

func reason(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

func TestUTXO(t *testing.T) {
	c := newTestChecker()
	curtime := uint32(0x5f5e0000)

	tests := []struct {
		name   string
		en2    string
		nTime  string
		nonce  string
		reason string
	}{
		{"valid", "00000001", "5f5e1000", "deadbeef", ""},
		{"future edge", "00000001", "5f5e2c20", "deadbeef", ""},
		{"short extranonce2", "000001", "5f5e1000", "deadbeef", "incorrect size of extranonce2"},
		{"short ntime", "00000001", "5f5e10", "deadbeef", "incorrect size of ntime"},
		{"long nonce", "00000001", "5f5e1000", "deadbeef00", "incorrect size of nonce"},
		{"hex nonce", "00000001", "5f5e1000", "zzzzzzzz", "invalid nonce"},
		{"hex extranonce2", "0000000g", "5f5e1000", "deadbeef", "invalid hex in extraNonce2"},
		{"before curtime", "00000001", "5f5dffff", "deadbeef", "ntime out of range"},
		{"too far ahead", "00000001", "5f5e2c21", "deadbeef", "ntime out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := c.UTXO("aabbccdd", tt.en2, tt.nTime, tt.nonce, curtime)
			if got := reason(err); got != tt.reason {
				t.Fatalf("reason = %q, want %q (err %v)", got, tt.reason, err)
			}
			if tt.reason == "" && (len(s.ExtraNonce1) != 4 || len(s.Nonce) != 4) {
				t.Errorf("decoded share = %+v", s)
			}
		})
	}

	s, _ := c.UTXO("aabbccdd", "00000001", "5f5e1000", "deadbeef", curtime)
	if s.NTimeInt != 0x5f5e1000 {
		t.Errorf("NTimeInt = %x", s.NTimeInt)
	}
}

func TestEquihash(t *testing.T) {
	c := newTestChecker()
	size, _ := algo.EquihashSolution(algo.Params{N: 200, K: 9})
	nonce := strings.Repeat("ab", 32)
	solution := "fd4005" + strings.Repeat("00", 1344)
	// 0x5f5e1000 byte-swapped
	nTime := "00105e5f"

	s, err := c.Equihash("00", nTime, nonce, solution, size, 0x5f5e0000)
	if err != nil {
		t.Fatalf("Equihash() error = %v", err)
	}
	if s.NTimeInt != 0x5f5e1000 || len(s.Solution) != 1347 || len(s.Nonce) != 32 {
		t.Errorf("decoded share: ntime %x solution %d nonce %d", s.NTimeInt, len(s.Solution), len(s.Nonce))
	}

	for n, k := range map[uint32]uint32{125: 4, 144: 5, 192: 7, 200: 9} {
		size, _ := algo.EquihashSolution(algo.Params{N: n, K: k})
		for _, delta := range []int{-2, 2} {
			bad := strings.Repeat("0", size.HexLength+delta)
			_, err := c.Equihash("00", nTime, nonce, bad, size, 0)
			if !strings.HasPrefix(reason(err), "Error: Incorrect size of solution") {
				t.Errorf("%d_%d length %d: reason %q", n, k, len(bad), reason(err))
			}
		}
	}

	if _, err := c.Equihash("0g", nTime, nonce, solution, size, 0); reason(err) != "invalid hex in extraNonce2" {
		t.Errorf("bad extranonce2 reason = %q", reason(err))
	}
	if _, err := c.Equihash("00", nTime, nonce[:62], solution, size, 0); reason(err) != "incorrect size of nonce" {
		t.Errorf("short nonce reason = %q", reason(err))
	}
	if _, err := c.Equihash("00", "5f5e1000", nonce, solution, size, 0x5f5e0000); reason(err) != "ntime out of range" {
		t.Errorf("unswapped ntime reason = %q", reason(err))
	}
}

func TestAccount(t *testing.T) {
	c := newTestChecker()
	mix := "0x" + strings.Repeat("cd", 32)

	s, err := c.Account("0x00000000000000ff", mix)
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if s.Nonce != 0xff || s.MixHash[0] != 0xcd {
		t.Errorf("decoded = %+v", s)
	}

	tests := map[string][2]string{
		"incorrect size of nonce":    {"00000000000000ff", mix},
		"invalid nonce":              {"0x00000000000000zz", mix},
		"incorrect size of mix hash": {"0x00000000000000ff", mix[2:]},
		"invalid mix hash":           {"0x00000000000000ff", "0x" + strings.Repeat("xy", 32)},
	}
	for want, in := range tests {
		if _, err := c.Account(in[0], in[1]); reason(err) != want {
			t.Errorf("Account(%q, %q) reason = %q, want %q", in[0], in[1], reason(err), want)
		}
	}
}
