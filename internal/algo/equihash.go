package algo

import "strings"

// SolutionSize describes the hex-encoded solution a miner must submit for an
// Equihash parameter set. Slice is the number of hex characters of the
// CompactSize length prefix stripped before verification.
type SolutionSize struct {
	HexLength int
	Slice     int
}

var equihashSolutions = map[string]SolutionSize{
	"125_4": {HexLength: 106, Slice: 2},
	"144_5": {HexLength: 202, Slice: 2},
	"192_7": {HexLength: 806, Slice: 6},
	"200_9": {HexLength: 2694, Slice: 6},
}

// EquihashSolution returns the solution size for the parameter set, or false
// if the set is not supported.
func EquihashSolution(p Params) (SolutionSize, bool) {
	s, ok := equihashSolutions[p.NK()]
	return s, ok
}

// DefaultEquihashParams returns the parameters a coin uses when none are
// configured explicitly.
func DefaultEquihashParams(symbol string) Params {
	switch strings.ToLower(symbol) {
	case "zen", "zent":
		return Params{N: 192, K: 7, Personalization: "ZenProtocol"}
	default:
		return Params{N: 200, K: 9, Personalization: "ZcashPoW"}
	}
}
