package algo

import (
	stderrors "errors"
	"slices"

	"github.com/bardlex/multipool/pkg/errors"
)

// ErrUnknownAlgorithm is returned by Lookup for ids missing from the registry.
var ErrUnknownAlgorithm = stderrors.New("unknown algorithm")

const (
	mulDefault = 256
	mulMemory  = 65536
)

type entry struct {
	family     Family
	multiplier float64
	params     Params
	native     bool
}

// builtins lists every supported algorithm. Multipliers follow the usual
// pool conventions: memory-hard scrypt derivatives 2^16, the original
// bitcoin-era chains 1, everything else 2^8.
var builtins = map[string]entry{
	"sha256": {family: FamilyUTXO, multiplier: 1},
	"x11":    {family: FamilyUTXO, multiplier: 1},
	"x13":    {family: FamilyUTXO, multiplier: 1},
	"x15":    {family: FamilyUTXO, multiplier: 1},
	"nist5":  {family: FamilyUTXO, multiplier: 1},
	"quark":  {family: FamilyUTXO, multiplier: 1},

	"scrypt":      {family: FamilyUTXO, multiplier: mulMemory, params: Params{ScryptN: 1024, ScryptR: 1}},
	"yescrypt":    {family: FamilyUTXO, multiplier: mulMemory},
	"yescryptR8":  {family: FamilyUTXO, multiplier: mulMemory},
	"yescryptR16": {family: FamilyUTXO, multiplier: mulMemory},
	"yescryptR32": {family: FamilyUTXO, multiplier: mulMemory},
	"yespowerr16": {family: FamilyUTXO, multiplier: mulMemory},

	"keccak":     {family: FamilyUTXO, multiplier: mulDefault},
	"blake":      {family: FamilyUTXO, multiplier: mulDefault},
	"ghostrider": {family: FamilyUTXO, multiplier: mulDefault},
	"verthash":   {family: FamilyUTXO, multiplier: mulDefault},
	"heavyhash":  {family: FamilyUTXO, multiplier: mulDefault},
	"x16rv2":     {family: FamilyUTXO, multiplier: mulDefault},
	"xelishash":  {family: FamilyUTXO, multiplier: mulDefault},
	"handshake":  {family: FamilyUTXO, multiplier: mulDefault},
	"kaspa":      {family: FamilyUTXO, multiplier: mulDefault},
	"zano":       {family: FamilyUTXO, multiplier: mulDefault},
	"nexa":       {family: FamilyUTXO, multiplier: mulDefault},
	"cortex":     {family: FamilyUTXO, multiplier: mulDefault},
	"meowpow":    {family: FamilyUTXO, multiplier: mulDefault},
	"firopow":    {family: FamilyUTXO, multiplier: mulDefault, params: Params{EpochLength: 7500}},
	"kawpow":     {family: FamilyUTXO, multiplier: mulDefault, params: Params{EpochLength: 7500}},
	"progpow":    {family: FamilyUTXO, multiplier: mulDefault, params: Params{EpochLength: 7500}},
	"progpowz":   {family: FamilyUTXO, multiplier: mulDefault, params: Params{EpochLength: 7500}},

	"equihash":    {family: FamilyEquihash, multiplier: mulDefault, params: Params{N: 200, K: 9, Personalization: "ZcashPoW"}},
	"equihashKMD": {family: FamilyEquihash, multiplier: mulDefault, params: Params{N: 200, K: 9, Personalization: "ZcashPoW"}},
	"beamhash":    {family: FamilyEquihash, multiplier: mulDefault, params: Params{N: 144, K: 5}},
	"verushash":   {family: FamilyEquihash, multiplier: mulDefault, params: Params{N: 200, K: 9}, native: true},

	"ethash":  {family: FamilyAccountDAG, multiplier: mulDefault, params: Params{EpochLength: 30000}},
	"etchash": {family: FamilyAccountDAG, multiplier: mulDefault, params: Params{EpochLength: 60000}},
	"ubqhash": {family: FamilyAccountDAG, multiplier: mulDefault, params: Params{EpochLength: 30000}},
}

// Registry is the process-wide algorithm table. It is built once at startup
// and read-only afterwards.
type Registry struct {
	algos map[string]Descriptor
}

type settings struct {
	hashers       map[string]HashFunc
	equihash      map[string]EquihashVerifier
	dag           map[string]DAGVerifier
	normalHashing bool
	scryptN       int
	scryptR       int
	equihashCfg   map[string]Params
}

// Option customises a Registry.
type Option func(*settings)

// WithHasher binds a digest primitive to an algorithm id, replacing the
// built-in binding if there is one.
func WithHasher(id string, fn HashFunc) Option {
	return func(s *settings) { s.hashers[id] = fn }
}

// WithEquihashVerifier binds a solution verifier to an Equihash-family id.
func WithEquihashVerifier(id string, v EquihashVerifier) Option {
	return func(s *settings) { s.equihash[id] = v }
}

// WithDAGVerifier binds a DAG proof verifier to an account-model id.
func WithDAGVerifier(id string, v DAGVerifier) Option {
	return func(s *settings) { s.dag[id] = v }
}

// WithNormalHashing enables the coin's normalHashing flag.
func WithNormalHashing(enabled bool) Option {
	return func(s *settings) { s.normalHashing = enabled }
}

// WithScryptParams overrides scrypt's N and r cost parameters.
func WithScryptParams(n, r int) Option {
	return func(s *settings) {
		s.scryptN = n
		s.scryptR = r
	}
}

// WithEquihashParams replaces N, K and the personalization string of an
// Equihash-family id.
func WithEquihashParams(id string, p Params) Option {
	return func(s *settings) { s.equihashCfg[id] = p }
}

// NewRegistry builds the registry with built-in bindings and the given options.
func NewRegistry(opts ...Option) *Registry {
	s := &settings{
		hashers:  make(map[string]HashFunc),
		equihash: make(map[string]EquihashVerifier),
		dag:      make(map[string]DAGVerifier),

		equihashCfg: make(map[string]Params),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := &Registry{algos: make(map[string]Descriptor, len(builtins))}
	for id, e := range builtins {
		d := Descriptor{
			ID:               id,
			Family:           e.family,
			Multiplier:       e.multiplier,
			Params:           e.params,
			NativeHeaderHash: e.native,
		}
		d.Params.NormalHashing = s.normalHashing
		if p, ok := s.equihashCfg[id]; ok && e.family == FamilyEquihash {
			d.Params.N, d.Params.K, d.Params.Personalization = p.N, p.K, p.Personalization
		}
		if id == "scrypt" && s.scryptN > 0 {
			d.Params.ScryptN, d.Params.ScryptR = s.scryptN, max(s.scryptR, 1)
		}

		d.Hash = builtinHasher(id, d.Params)
		if fn, ok := s.hashers[id]; ok {
			d.Hash = fn
		}
		d.hashBound = d.Hash != nil
		if !d.hashBound {
			d.Hash = unboundHasher(id)
		}
		d.CoinbaseHash = coinbaseHasher(id, d.Params)
		d.BlockHash = blockHasher(id, d.Hash)
		d.VerifyEquihash = s.equihash[id]
		d.VerifyDAG = s.dag[id]

		r.algos[id] = d
	}
	return r
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	d, ok := r.algos[id]
	if !ok {
		return Descriptor{}, errors.Wrap(ErrUnknownAlgorithm, errors.ErrorTypeAlgorithm, "lookup",
			"algorithm is not registered").
			WithContext("algorithm", id)
	}
	return d, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.algos))
	for id := range r.algos {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Known reports whether id is a built-in algorithm. Used by config
// validation before a registry exists.
func Known(id string) bool {
	_, ok := builtins[id]
	return ok
}
