package jobmanager

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"sync/atomic"

	fasthex "github.com/tmthrgd/go-hex"
)

const (
	utxoCounterWrap     = 0xffff
	equihashCounterSeed = 0x0000cccc
	equihashCounterWrap = 0xffffffffff
)

// JobCounter hands out job ids. Ids are unpadded lowercase hex and repeat
// after the counter wraps, so they are only unique within one job set.
// Callers serialize access.
type JobCounter struct {
	value uint64
	wrap  uint64
}

// NewJobCounter returns the counter used by UTXO and account chains.
func NewJobCounter() *JobCounter {
	return &JobCounter{wrap: utxoCounterWrap}
}

// NewEquihashJobCounter returns the Equihash counter, a separate id space
// starting at 0xcccc.
func NewEquihashJobCounter() *JobCounter {
	return &JobCounter{value: equihashCounterSeed, wrap: equihashCounterWrap}
}

// Next advances the counter and returns the new id.
func (c *JobCounter) Next() string {
	c.value++
	if c.value%c.wrap == 0 {
		c.value = 1
	}
	return c.Current()
}

// Current returns the last id handed out.
func (c *JobCounter) Current() string {
	return strconv.FormatUint(c.value, 16)
}

// ExtraNonceSize is the length in bytes of the pool-assigned extranonce1.
const ExtraNonceSize = 4

// ExtraNonceCounter assigns each subscriber a distinct extranonce1. The top
// five bits carry the instance id so several pool instances never collide.
type ExtraNonceCounter struct {
	counter atomic.Uint32
}

// NewExtraNonceCounter seeds the counter from instanceID, or from a random
// id when instanceID is zero.
func NewExtraNonceCounter(instanceID uint32) *ExtraNonceCounter {
	if instanceID == 0 {
		var b [4]byte
		_, _ = rand.Read(b[:])
		instanceID = binary.LittleEndian.Uint32(b[:])
	}
	c := &ExtraNonceCounter{}
	c.counter.Store(instanceID << 27)
	return c
}

// Next returns the current value as 8 hex characters, then advances.
func (c *ExtraNonceCounter) Next() string {
	v := c.counter.Add(1) - 1
	var b [ExtraNonceSize]byte
	binary.BigEndian.PutUint32(b[:], v)
	return fasthex.EncodeToString(b[:])
}

// Size returns the extranonce1 size in bytes.
func (c *ExtraNonceCounter) Size() int {
	return ExtraNonceSize
}
