package algo

import (
	"encoding/binary"
	stderrors "errors"
	"slices"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"

	"github.com/bardlex/multipool/pkg/errors"
)

// ErrPrimitiveUnbound is returned by a hash binding for an algorithm whose
// primitive has not been supplied through WithHasher.
var ErrPrimitiveUnbound = stderrors.New("hash primitive not bound")

// builtinHasher returns the bundled digest for id, or nil when the
// algorithm has none.
func builtinHasher(id string, p Params) HashFunc {
	switch id {
	case "sha256":
		return func(header []byte, _ uint32) ([]byte, error) {
			return chainhash.DoubleHashB(header), nil
		}
	case "scrypt":
		n, r := p.ScryptN, p.ScryptR
		return func(header []byte, _ uint32) ([]byte, error) {
			return scrypt.Key(header, header, n, r, 1, 32)
		}
	case "keccak":
		if p.NormalHashing {
			return func(header []byte, nTime uint32) ([]byte, error) {
				buf := make([]byte, len(header)+4)
				copy(buf, header)
				binary.BigEndian.PutUint32(buf[len(header):], nTime)
				return keccak256(keccak256(buf)), nil
			}
		}
		return func(header []byte, _ uint32) ([]byte, error) {
			return keccak256(header), nil
		}
	}
	return nil
}

func unboundHasher(id string) HashFunc {
	return func([]byte, uint32) ([]byte, error) {
		return nil, errors.Wrap(ErrPrimitiveUnbound, errors.ErrorTypeAlgorithm, "hash",
			"no primitive bound for algorithm").
			WithContext("algorithm", id)
	}
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func coinbaseHasher(id string, p Params) func([]byte) []byte {
	switch id {
	case "keccak", "fugue", "groestl":
		if !p.NormalHashing {
			return chainhash.HashB
		}
	}
	return chainhash.DoubleHashB
}

func blockHasher(id string, hash HashFunc) func([]byte, uint32) ([]byte, error) {
	switch id {
	case "scrypt", "blake", "neoscrypt":
		return func(header []byte, _ uint32) ([]byte, error) {
			return Reverse(chainhash.DoubleHashB(header)), nil
		}
	default:
		return func(header []byte, nTime uint32) ([]byte, error) {
			digest, err := hash(header, nTime)
			if err != nil {
				return nil, err
			}
			return Reverse(digest), nil
		}
	}
}

// Reverse returns a reversed copy of b.
func Reverse(b []byte) []byte {
	out := slices.Clone(b)
	slices.Reverse(out)
	return out
}
