// Package validation checks the shape of submitted share fields and the
// nTime window before any hashing is done. Failures are FieldErrors whose
// Reason is the message returned to the miner.
package validation

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/multipool/internal/algo"
)

// DefaultMaxFuture is how far past the local clock a share's nTime may be.
const DefaultMaxFuture = 7200 * time.Second

// FieldError reports a malformed share field.
type FieldError struct {
	Reason string
}

func (e *FieldError) Error() string {
	return e.Reason
}

func reject(format string, args ...any) *FieldError {
	return &FieldError{Reason: fmt.Sprintf(format, args...)}
}

// Checker validates share fields for one pool.
type Checker struct {
	extraNonce2Size int
	maxFuture       time.Duration
	now             func() time.Time
}

// NewChecker returns a Checker for the given extranonce2 size in bytes.
func NewChecker(extraNonce2Size int, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	return &Checker{
		extraNonce2Size: extraNonce2Size,
		maxFuture:       DefaultMaxFuture,
		now:             now,
	}
}

// ExtraNonce2Size returns the configured extranonce2 size in bytes.
func (c *Checker) ExtraNonce2Size() int {
	return c.extraNonce2Size
}

// UTXOShare holds the decoded fields of a UTXO-family submission.
type UTXOShare struct {
	ExtraNonce1 []byte
	ExtraNonce2 []byte
	NTime       []byte
	Nonce       []byte
	NTimeInt    uint32
}

// CheckExtraNonce2Size rejects an extranonce2 whose length differs from the
// configured size.
func (c *Checker) CheckExtraNonce2Size(extraNonce2 string) error {
	if len(extraNonce2) != c.extraNonce2Size*2 {
		return reject("incorrect size of extranonce2")
	}
	return nil
}

// UTXO checks a submission against the 80-byte header family rules. nTime is
// read big-endian and must lie in [curtime, now+7200s].
func (c *Checker) UTXO(extraNonce1, extraNonce2, nTime, nonce string, curtime uint32) (UTXOShare, error) {
	if err := c.CheckExtraNonce2Size(extraNonce2); err != nil {
		return UTXOShare{}, err
	}
	if len(nTime) != 8 {
		return UTXOShare{}, reject("incorrect size of ntime")
	}
	if len(nonce) != 8 {
		return UTXOShare{}, reject("incorrect size of nonce")
	}

	var s UTXOShare
	var err error
	if s.ExtraNonce1, err = fasthex.DecodeString(extraNonce1); err != nil {
		return UTXOShare{}, reject("invalid hex in extraNonce1")
	}
	if s.ExtraNonce2, err = fasthex.DecodeString(extraNonce2); err != nil {
		return UTXOShare{}, reject("invalid hex in extraNonce2")
	}
	if s.NTime, err = fasthex.DecodeString(nTime); err != nil {
		return UTXOShare{}, reject("invalid ntime")
	}
	if s.Nonce, err = fasthex.DecodeString(nonce); err != nil {
		return UTXOShare{}, reject("invalid nonce")
	}

	s.NTimeInt = binary.BigEndian.Uint32(s.NTime)
	if err := c.checkWindow(s.NTimeInt, curtime); err != nil {
		return UTXOShare{}, err
	}
	return s, nil
}

// EquihashShare holds the decoded fields of an Equihash submission.
type EquihashShare struct {
	NTime    []byte
	Nonce    []byte
	Solution []byte
	NTimeInt uint32
}

// Equihash checks a submission against the 140-byte header family rules.
// nTime arrives byte-swapped and is compared after swapping back.
func (c *Checker) Equihash(extraNonce2, nTime, nonce, solution string, size algo.SolutionSize, curtime uint32) (EquihashShare, error) {
	if len(nTime) != 8 {
		return EquihashShare{}, reject("incorrect size of ntime")
	}

	var s EquihashShare
	var err error
	if s.NTime, err = fasthex.DecodeString(nTime); err != nil {
		return EquihashShare{}, reject("invalid ntime")
	}
	if len(nonce) != 64 {
		return EquihashShare{}, reject("incorrect size of nonce")
	}
	if len(solution) != size.HexLength {
		return EquihashShare{}, reject("Error: Incorrect size of solution (%d), expected %d", len(solution), size.HexLength)
	}
	if _, err := fasthex.DecodeString(extraNonce2); err != nil {
		return EquihashShare{}, reject("invalid hex in extraNonce2")
	}
	if s.Nonce, err = fasthex.DecodeString(nonce); err != nil {
		return EquihashShare{}, reject("invalid nonce")
	}
	if s.Solution, err = fasthex.DecodeString(solution); err != nil {
		return EquihashShare{}, reject("invalid solution")
	}

	s.NTimeInt = binary.LittleEndian.Uint32(s.NTime)
	if err := c.checkWindow(s.NTimeInt, curtime); err != nil {
		return EquihashShare{}, err
	}
	return s, nil
}

// AccountShare holds the decoded fields of a DAG submission.
type AccountShare struct {
	Nonce   uint64
	MixHash common.Hash
}

// Account checks that nonce is 0x plus 16 hex characters and mixHash is 0x
// plus 64 hex characters.
func (c *Checker) Account(nonce, mixHash string) (AccountShare, error) {
	if len(nonce) != 18 || !has0x(nonce) {
		return AccountShare{}, reject("incorrect size of nonce")
	}
	if len(mixHash) != 66 || !has0x(mixHash) {
		return AccountShare{}, reject("incorrect size of mix hash")
	}

	raw, err := fasthex.DecodeString(nonce[2:])
	if err != nil {
		return AccountShare{}, reject("invalid nonce")
	}
	mix, err := fasthex.DecodeString(mixHash[2:])
	if err != nil {
		return AccountShare{}, reject("invalid mix hash")
	}
	return AccountShare{
		Nonce:   binary.BigEndian.Uint64(raw),
		MixHash: common.BytesToHash(mix),
	}, nil
}

func (c *Checker) checkWindow(nTime, curtime uint32) error {
	latest := c.now().Add(c.maxFuture).Unix()
	if nTime < curtime || int64(nTime) > latest {
		return reject("ntime out of range")
	}
	return nil
}

func has0x(s string) bool {
	return s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
