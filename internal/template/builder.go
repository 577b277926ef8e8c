package template

import (
	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/pkg/errors"
)

// ExtraNoncePlaceholder is embedded in the coinbase where the pool and
// miner extranonces go.
var ExtraNoncePlaceholder = []byte{0xf0, 0x00, 0x00, 0x0f, 0xf1, 0x11, 0x11, 0x1f}

// BuilderConfig carries the collaborators and coin settings needed to build jobs.
type BuilderConfig struct {
	Algorithm algo.Descriptor
	Coinbase  CoinbaseBuilder
	Fees      FeeExtractor

	SubsidyMultiple int64
	FundingStreams  bool
	Placeholder     []byte
}

// Builder constructs jobs for one coin.
type Builder struct {
	cfg      BuilderConfig
	solution algo.SolutionSize
}

// NewBuilder validates cfg. Misconfiguration is reported here so it aborts
// startup instead of surfacing on the first template.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Fees == nil {
		cfg.Fees = SumFees
	}
	if cfg.SubsidyMultiple <= 0 {
		cfg.SubsidyMultiple = DefaultSubsidyMultiple
	}
	if len(cfg.Placeholder) == 0 {
		cfg.Placeholder = ExtraNoncePlaceholder
	}

	b := &Builder{cfg: cfg}
	switch cfg.Algorithm.Family {
	case algo.FamilyUTXO:
		if cfg.Coinbase == nil {
			return nil, errors.New(errors.ErrorTypeTemplate, "new_builder", "coinbase builder is required").
				WithContext("algorithm", cfg.Algorithm.ID)
		}
	case algo.FamilyEquihash:
		if cfg.Coinbase == nil {
			return nil, errors.New(errors.ErrorTypeTemplate, "new_builder", "coinbase builder is required").
				WithContext("algorithm", cfg.Algorithm.ID)
		}
		size, ok := algo.EquihashSolution(cfg.Algorithm.Params)
		if !ok {
			return nil, errors.New(errors.ErrorTypeTemplate, "new_builder", "unsupported equihash parameters").
				WithContext("algorithm", cfg.Algorithm.ID).
				WithContext("n_k", cfg.Algorithm.Params.NK())
		}
		b.solution = size
	case algo.FamilyAccountDAG:
	default:
		return nil, errors.Newf(errors.ErrorTypeAlgorithm, "new_builder", "unsupported family %s", cfg.Algorithm.Family)
	}
	return b, nil
}

// Algorithm returns the descriptor jobs are built for.
func (b *Builder) Algorithm() algo.Descriptor {
	return b.cfg.Algorithm
}

// Solution returns the Equihash solution size; zero for other families.
func (b *Builder) Solution() algo.SolutionSize {
	return b.solution
}

// Placeholder returns the extranonce placeholder embedded in coinbases.
func (b *Builder) Placeholder() []byte {
	return b.cfg.Placeholder
}

// UTXO builds a job for a non-Equihash UTXO chain.
func (b *Builder) UTXO(id string, tpl *BlockTemplate) (*UTXOJob, error) {
	if b.cfg.Algorithm.Family != algo.FamilyUTXO {
		return nil, b.familyMismatch("utxo")
	}
	base, err := b.newBase(id, tpl)
	if err != nil {
		return nil, err
	}
	return &UTXOJob{base: base}, nil
}

// Equihash builds a job for an Equihash-family chain.
func (b *Builder) Equihash(id string, tpl *BlockTemplate) (*EquihashJob, error) {
	if b.cfg.Algorithm.Family != algo.FamilyEquihash {
		return nil, b.familyMismatch("equihash")
	}
	base, err := b.newBase(id, tpl)
	if err != nil {
		return nil, err
	}
	return &EquihashJob{base: base, solution: b.solution}, nil
}

// Account builds a job for a DAG-mined account chain.
func (b *Builder) Account(id string, work *WorkTemplate) (*AccountJob, error) {
	if b.cfg.Algorithm.Family != algo.FamilyAccountDAG {
		return nil, b.familyMismatch("account")
	}
	return newAccountJob(id, work)
}

func (b *Builder) familyMismatch(requested string) error {
	return errors.New(errors.ErrorTypeAlgorithm, "build_job", "job family does not match algorithm").
		WithContext("algorithm", b.cfg.Algorithm.ID).
		WithContext("family", b.cfg.Algorithm.Family.String()).
		WithContext("requested", requested)
}
