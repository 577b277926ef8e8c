package template

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/merkle"
	"github.com/bardlex/multipool/pkg/errors"
)

const (
	// HeaderSize is the bitcoin-style header length.
	HeaderSize = 80
	// WideHeaderSize is the Equihash header length, without solution.
	WideHeaderSize = 140
)

// base holds what UTXO and Equihash jobs share. Everything except the share
// set is immutable once newBase returns.
type base struct {
	id         string
	tpl        *BlockTemplate
	desc       algo.Descriptor
	target     *uint256.Int
	difficulty float64
	reward     Reward
	fees       int64

	coinbase     Coinbase
	placeholder  []byte
	coinbaseHash chainhash.Hash
	tree         merkle.Tree

	prevHash chainhash.Hash
	reserved chainhash.Hash
	bits     [4]byte
	txData   [][]byte
	notary   []byte

	shares *shareSet
}

func (b *Builder) newBase(id string, tpl *BlockTemplate) (base, error) {
	fail := func(msg string, err error) (base, error) {
		se := errors.Wrap(err, errors.ErrorTypeTemplate, "build_job", msg)
		if se == nil {
			se = errors.New(errors.ErrorTypeTemplate, "build_job", msg)
		}
		return base{}, se.WithContext("height", tpl.Height).WithContext("job_id", id)
	}

	j := base{
		id:          id,
		tpl:         tpl,
		desc:        b.cfg.Algorithm,
		placeholder: b.cfg.Placeholder,
		shares:      newShareSet(),
	}

	bits, err := fasthex.DecodeString(tpl.Bits)
	if err != nil || len(bits) != 4 {
		return fail("bits must be 4 hex bytes", err)
	}
	for i := range 4 {
		j.bits[i] = bits[3-i]
	}

	if tpl.Target != "" {
		j.target, err = ParseTarget(tpl.Target)
		if err != nil {
			return base{}, err
		}
	} else {
		t, overflow := uint256.FromBig(blockchain.CompactToBig(binary.BigEndian.Uint32(bits)))
		if overflow || t.IsZero() {
			return fail("bits do not encode a usable target", nil)
		}
		j.target = t
	}
	j.difficulty = TargetDifficulty(j.target)

	prev, err := chainhash.NewHashFromStr(tpl.PreviousBlockHash)
	if err != nil || len(tpl.PreviousBlockHash) != 64 {
		return fail("invalid previousblockhash", err)
	}
	j.prevHash = *prev

	if tpl.FinalSaplingRootHash != "" {
		root, err := chainhash.NewHashFromStr(tpl.FinalSaplingRootHash)
		if err != nil {
			return fail("invalid finalsaplingroothash", err)
		}
		j.reserved = *root
	}

	if tpl.NotaryPayContent != "" {
		if j.notary, err = fasthex.DecodeString(tpl.NotaryPayContent); err != nil {
			return fail("invalid notarypaycontent", err)
		}
	}

	j.reward = ComputeReward(tpl, b.cfg.SubsidyMultiple, b.cfg.FundingStreams)
	j.fees = b.cfg.Fees(tpl.Transactions)

	if j.coinbase, err = b.cfg.Coinbase.BuildCoinbase(tpl, j.reward, j.fees, b.cfg.Placeholder); err != nil {
		return fail("coinbase construction failed", err)
	}
	raw := j.coinbase.Serialize(j.placeholder, nil)
	copy(j.coinbaseHash[:], j.desc.CoinbaseHash(raw))

	leaves := make([]chainhash.Hash, 1, len(tpl.Transactions)+1)
	leaves[0] = j.coinbaseHash
	j.txData = make([][]byte, len(tpl.Transactions))
	for i, tx := range tpl.Transactions {
		h, err := chainhash.NewHashFromStr(tx.ID())
		if err != nil {
			return fail(fmt.Sprintf("invalid id for transaction %d", i), err)
		}
		leaves = append(leaves, *h)
		if j.txData[i], err = fasthex.DecodeString(tx.Data); err != nil {
			return fail(fmt.Sprintf("invalid data for transaction %d", i), err)
		}
	}
	j.tree = merkle.Build(leaves)

	return j, nil
}

func (j *base) ID() string { return j.id }
func (j *base) Family() algo.Family { return j.desc.Family }
func (j *base) Target() *uint256.Int { return new(uint256.Int).Set(j.target) }
func (j *base) Difficulty() float64 { return j.difficulty }
func (j *base) Height() int64 { return j.tpl.Height }
func (j *base) Identity() string { return j.tpl.PreviousBlockHash }
func (j *base) SubmissionCount() int { return j.shares.count() }
func (j *base) Template() *BlockTemplate { return j.tpl }
func (j *base) Reward() Reward { return j.reward }
func (j *base) Fees() int64 { return j.fees }

// MerkleRoot returns the root computed with the placeholder coinbase.
func (j *base) MerkleRoot() chainhash.Hash { return j.tree.Root }

// CurTime returns the template's curtime, the lower bound for share nTime.
func (j *base) CurTime() uint32 { return j.tpl.CurTime }

func (j *base) writeCommon(buf []byte, merkleRoot chainhash.Hash) int {
	binary.LittleEndian.PutUint32(buf[0:4], j.tpl.Version)
	copy(buf[4:36], j.prevHash[:])
	copy(buf[36:68], merkleRoot[:])
	return 68
}

func (j *base) block(header, extra, coinbase []byte) []byte {
	var buf bytes.Buffer
	size := len(header) + len(extra) + 9 + len(coinbase)
	for _, tx := range j.txData {
		size += len(tx)
	}
	buf.Grow(size)

	buf.Write(header)
	buf.Write(extra)
	_ = wire.WriteVarInt(&buf, 0, uint64(len(j.txData)+1))
	buf.Write(coinbase)
	for _, tx := range j.txData {
		buf.Write(tx)
	}
	return buf.Bytes()
}

func (j *base) params(cleanJobs bool) []any {
	var version, curtime [4]byte
	binary.LittleEndian.PutUint32(version[:], j.tpl.Version)
	binary.LittleEndian.PutUint32(curtime[:], j.tpl.CurTime)

	p := []any{
		j.id,
		fasthex.EncodeToString(version[:]),
		fasthex.EncodeToString(j.prevHash[:]),
		fasthex.EncodeToString(j.tree.Root[:]),
		fasthex.EncodeToString(j.reserved[:]),
		fasthex.EncodeToString(curtime[:]),
		fasthex.EncodeToString(j.bits[:]),
		cleanJobs,
	}
	if nk := j.desc.Params.NK(); nk != "" && j.desc.Family == algo.FamilyEquihash {
		p = append(p, nk)
		if j.desc.Params.Personalization != "" {
			p = append(p, j.desc.Params.Personalization)
		}
	}
	return p
}

// UTXOJob is a job for a chain with 80-byte headers.
type UTXOJob struct {
	base
}

// RegisterSubmit records the submission and reports whether it is new.
func (j *UTXOJob) RegisterSubmit(extraNonce1, extraNonce2, nTime, nonce string) bool {
	return j.shares.add(submissionKey(extraNonce1, extraNonce2, nTime, nonce))
}

// SerializeCoinbase fills the extranonce gap of the coinbase.
func (j *UTXOJob) SerializeCoinbase(extraNonce1, extraNonce2 []byte) []byte {
	return j.coinbase.Serialize(extraNonce1, extraNonce2)
}

// MerkleRootWith recomputes the merkle root for a worker's coinbase hash.
func (j *UTXOJob) MerkleRootWith(coinbaseHash chainhash.Hash) chainhash.Hash {
	return j.tree.WithFirst(coinbaseHash)
}

// HashCoinbase hashes a serialized coinbase with the algorithm's coinbase hasher.
func (j *UTXOJob) HashCoinbase(coinbase []byte) chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], j.desc.CoinbaseHash(coinbase))
	return h
}

// SerializeHeader lays out version, previous hash, merkle root, time, bits
// and nonce. nTime and nonce are written as supplied.
func (j *UTXOJob) SerializeHeader(merkleRoot chainhash.Hash, nTime, nonce []byte) ([]byte, error) {
	if len(nTime) != 4 || len(nonce) != 4 {
		return nil, fmt.Errorf("ntime and nonce must be 4 bytes, got %d and %d", len(nTime), len(nonce))
	}
	header := make([]byte, HeaderSize)
	pos := j.writeCommon(header, merkleRoot)
	copy(header[pos:], nTime)
	copy(header[pos+4:], j.bits[:])
	copy(header[pos+8:], nonce)
	return header, nil
}

// SerializeBlock returns header, transaction count, coinbase and
// transactions. Notary payment content, when present, follows the header.
func (j *UTXOJob) SerializeBlock(header, coinbase []byte) []byte {
	return j.block(header, j.notary, coinbase)
}

// Params returns [jobId, version, prevHash, merkleRoot, reservedHash, curtime, bits, cleanJobs].
func (j *UTXOJob) Params(cleanJobs bool) []any {
	return j.params(cleanJobs)
}
