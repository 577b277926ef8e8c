package template

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/bardlex/multipool/pkg/errors"
)

// diff1 is the difficulty-1 target 0x00000000FFFF0000...0000.
var diff1 = new(uint256.Int).Lsh(uint256.NewInt(0xffff), 208)

// Diff1 returns a copy of the difficulty-1 target.
func Diff1() *uint256.Int {
	return new(uint256.Int).Set(diff1)
}

// ParseTarget decodes a big-endian hex target of at most 32 bytes, with or
// without a 0x prefix.
func ParseTarget(s string) (*uint256.Int, error) {
	s = trim0x(s)
	if s == "" || len(s) > 64 {
		return nil, errors.New(errors.ErrorTypeTemplate, "parse_target", "target must be 1 to 64 hex characters").
			WithContext("target", s)
	}
	// uint256.FromHex rejects leading zeros, so go through big.Int.
	b, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, errors.New(errors.ErrorTypeTemplate, "parse_target", "target is not hex").
			WithContext("target", s)
	}
	t, overflow := uint256.FromBig(b)
	if overflow || t.IsZero() {
		return nil, errors.New(errors.ErrorTypeTemplate, "parse_target", "target out of range").
			WithContext("target", s)
	}
	return t, nil
}

// DigestToInt interprets a hash digest as a little-endian 256-bit integer.
func DigestToInt(digest []byte) *uint256.Int {
	var be [32]byte
	n := min(len(digest), 32)
	for i := range n {
		be[31-i] = digest[i]
	}
	return new(uint256.Int).SetBytes32(be[:])
}

// ratio returns num/den as a float64.
func ratio(num, den *uint256.Int) float64 {
	if den.IsZero() {
		return math.Inf(1)
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(num.ToBig()),
		new(big.Float).SetInt(den.ToBig()),
	).Float64()
	return f
}

// TargetDifficulty returns diff1/target rounded to 9 decimal places.
func TargetDifficulty(target *uint256.Int) float64 {
	return math.Round(ratio(diff1, target)*1e9) / 1e9
}

// ShareDifficulty returns diff1/value scaled by the algorithm multiplier.
func ShareDifficulty(value *uint256.Int, multiplier float64) float64 {
	return ratio(diff1, value) * multiplier
}

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// AccountDifficulty returns floor((2^256/target) / 2^32), the difficulty
// convention of DAG-mined account chains.
func AccountDifficulty(target *uint256.Int) float64 {
	if target.IsZero() {
		return math.Inf(1)
	}
	q := new(big.Int).Quo(two256, target.ToBig())
	q.Rsh(q, 32)
	f, _ := new(big.Float).SetInt(q).Float64()
	return f
}
