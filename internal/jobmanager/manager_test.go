package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/template"
	serrors "github.com/bardlex/multipool/pkg/errors"
)

const (
	diff1Hex = "00000000ffff0000000000000000000000000000000000000000000000000000"
	curTime  = 0x5f5e1000
)

var testNow = time.Unix(curTime+100, 0)

type fakeCoinbase struct{}

func (fakeCoinbase) BuildCoinbase(*template.BlockTemplate, template.Reward, int64, []byte) (template.Coinbase, error) {
	return template.Coinbase{Part1: []byte{0x01, 0x02}, Part2: []byte{0x03}}, nil
}

// fakeHasher returns a fixed digest, or panics when panics is set.
type fakeHasher struct {
	digest []byte
	panics bool
}

func (f *fakeHasher) hash([]byte, uint32) ([]byte, error) {
	if f.panics {
		panic("boom")
	}
	return f.digest, nil
}

// digestFor returns the little-endian digest whose integer value is v.
func digestFor(v *uint256.Int) []byte {
	be := v.Bytes32()
	return algo.Reverse(be[:])
}

func times(v *uint256.Int, n uint64) *uint256.Int {
	return new(uint256.Int).Mul(v, uint256.NewInt(n))
}

func blockTemplate(prev string, height int64) *template.BlockTemplate {
	return &template.BlockTemplate{
		Version:           0x20000000,
		PreviousBlockHash: strings.Repeat("00", 31) + prev,
		CurTime:           curTime,
		Bits:              "1d00ffff",
		Target:            diff1Hex,
		Height:            height,
		CoinbaseValue:     625000000,
	}
}

func newTestManager(t *testing.T, id string, opts ...algo.Option) *Manager {
	t.Helper()
	desc, err := algo.NewRegistry(opts...).Lookup(id)
	if err != nil {
		t.Fatal(err)
	}
	builder, err := template.NewBuilder(template.BuilderConfig{Algorithm: desc, Coinbase: fakeCoinbase{}})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	m, err := New(Config{
		Builder:    builder,
		InstanceID: 1,
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case e := <-m.Events():
		return e
	default:
		t.Fatal("no event emitted")
		return nil
	}
}

func nextShare(t *testing.T, m *Manager) ShareResult {
	t.Helper()
	e, ok := nextEvent(t, m).(ShareResult)
	if !ok {
		t.Fatalf("event is %T, want ShareResult", e)
	}
	return e
}

func processTemplate(t *testing.T, m *Manager, data template.RPCData) template.Job {
	t.Helper()
	ok, err := m.ProcessTemplate(data)
	if err != nil || !ok {
		t.Fatalf("ProcessTemplate() = %v, %v; want true, nil", ok, err)
	}
	nb, isNew := nextEvent(t, m).(NewBlock)
	if !isNew {
		t.Fatal("expected NewBlock event")
	}
	return nb.Job
}

func TestNewRequiresVerifiers(t *testing.T) {
	for _, id := range []string{"equihash", "ethash"} {
		desc, err := algo.NewRegistry().Lookup(id)
		if err != nil {
			t.Fatal(err)
		}
		builder, err := template.NewBuilder(template.BuilderConfig{Algorithm: desc, Coinbase: fakeCoinbase{}})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := New(Config{Builder: builder}); !serrors.IsType(err, serrors.ErrorTypeAlgorithm) {
			t.Errorf("New(%s) error = %v, want algorithm error", id, err)
		}
	}
	if _, err := New(Config{}); err == nil {
		t.Error("New() without builder succeeded")
	}
}

func TestNewRequiresHashPrimitive(t *testing.T) {
	fixed := func([]byte, uint32) ([]byte, error) { return make([]byte, 32), nil }
	verifier := func([]byte, []byte, algo.Params) (bool, error) { return true, nil }
	tests := []struct {
		name    string
		id      string
		opts    []algo.Option
		wantErr bool
	}{
		{"builtin sha256", "sha256", nil, false},
		{"x11 unbound", "x11", nil, true},
		{"kawpow unbound", "kawpow", nil, true},
		{"x11 injected", "x11", []algo.Option{algo.WithHasher("x11", fixed)}, false},
		{"verushash unbound", "verushash", []algo.Option{algo.WithEquihashVerifier("verushash", verifier)}, true},
		{"equihash double sha", "equihash", []algo.Option{algo.WithEquihashVerifier("equihash", verifier)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := algo.NewRegistry(tt.opts...).Lookup(tt.id)
			if err != nil {
				t.Fatal(err)
			}
			builder, err := template.NewBuilder(template.BuilderConfig{Algorithm: desc, Coinbase: fakeCoinbase{}})
			if err != nil {
				t.Fatal(err)
			}
			_, err = New(Config{Builder: builder})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%s) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if tt.wantErr && (!errors.Is(err, algo.ErrPrimitiveUnbound) || !serrors.IsType(err, serrors.ErrorTypeAlgorithm)) {
				t.Errorf("New(%s) error = %v, want unbound algorithm error", tt.id, err)
			}
		})
	}
}

func TestProcessTemplate(t *testing.T) {
	m := newTestManager(t, "sha256")
	if m.CurrentJob() != nil {
		t.Fatal("current job before first template")
	}

	first := processTemplate(t, m, blockTemplate("01", 100))
	if first.ID() != "1" {
		t.Errorf("first job id = %q, want 1", first.ID())
	}

	// Same previous block hash is not a new block.
	if ok, err := m.ProcessTemplate(blockTemplate("01", 100)); ok || err != nil {
		t.Errorf("repeat ProcessTemplate() = %v, %v; want false, nil", ok, err)
	}
	// A lagging daemon reporting a lower height is ignored.
	if ok, err := m.ProcessTemplate(blockTemplate("02", 99)); ok || err != nil {
		t.Errorf("stale ProcessTemplate() = %v, %v; want false, nil", ok, err)
	}
	if m.CurrentJob() != first || m.ValidJobCount() != 1 {
		t.Fatal("ignored templates changed the job set")
	}
	select {
	case e := <-m.Events():
		t.Fatalf("unexpected event %T", e)
	default:
	}

	second := processTemplate(t, m, blockTemplate("03", 101))
	if second.ID() != "2" || m.ValidJobCount() != 1 {
		t.Errorf("after new block: id %q, %d valid jobs", second.ID(), m.ValidJobCount())
	}
	if _, ok := m.Job(first.ID()); ok {
		t.Error("job from previous block still valid")
	}
}

func TestProcessTemplateWrongShape(t *testing.T) {
	m := newTestManager(t, "sha256")
	_, err := m.ProcessTemplate(&template.WorkTemplate{HeaderHash: "0x01"})
	if !serrors.IsType(err, serrors.ErrorTypeTemplate) {
		t.Errorf("ProcessTemplate(work) error = %v, want template error", err)
	}
}

func TestUpdateCurrentJob(t *testing.T) {
	m := newTestManager(t, "sha256")
	first := processTemplate(t, m, blockTemplate("01", 100))

	if err := m.UpdateCurrentJob(blockTemplate("01", 100)); err != nil {
		t.Fatalf("UpdateCurrentJob() error = %v", err)
	}
	ev, ok := nextEvent(t, m).(UpdatedBlock)
	if !ok || !ev.SameHeight {
		t.Fatalf("event = %+v, want UpdatedBlock at same height", ev)
	}
	if m.ValidJobCount() != 2 || m.CurrentJob() != ev.Job {
		t.Errorf("valid jobs = %d, want 2", m.ValidJobCount())
	}
	if _, ok := m.Job(first.ID()); !ok {
		t.Error("update discarded the earlier job")
	}
}

func utxoSubmission(nonce string) Submission {
	return Submission{
		JobID:       "1",
		Difficulty:  1,
		ExtraNonce1: "08000000",
		ExtraNonce2: "00000000",
		NTime:       "5f5e1000",
		Nonce:       nonce,
		IP:          "127.0.0.1",
		Port:        3333,
		Worker:      "miner.rig1",
	}
}

func TestProcessShareUTXO(t *testing.T) {
	hasher := &fakeHasher{}
	m := newTestManager(t, "sha256", algo.WithHasher("sha256", hasher.hash))
	processTemplate(t, m, blockTemplate("01", 100))

	diff1 := template.Diff1()
	tests := []struct {
		name      string
		digest    []byte
		panics    bool
		modify    func(*Submission)
		wantCode  int
		wantMsg   string
		wantBlock bool
		wantDiff  float64
	}{
		{
			name:      "block candidate",
			digest:    digestFor(uint256.NewInt(1)),
			wantBlock: true,
			wantDiff:  1,
		},
		{
			name:     "meets assigned difficulty",
			digest:   digestFor(times(diff1, 4)),
			modify:   func(s *Submission) { s.Difficulty = 0.25 },
			wantDiff: 0.25,
		},
		{
			name:     "low difficulty",
			digest:   digestFor(times(diff1, 4)),
			modify:   func(s *Submission) { s.Difficulty = 0.5 },
			wantCode: ErrCodeLowDifficulty,
			wantMsg:  "low difficulty share of 0.25",
			wantDiff: 0.5,
		},
		{
			name:   "vardiff grace credits previous difficulty",
			digest: digestFor(times(diff1, 4)),
			modify: func(s *Submission) {
				s.Difficulty = 0.5
				s.PreviousDifficulty = 0.25
			},
			wantDiff: 0.25,
		},
		{
			name:     "hasher panic",
			panics:   true,
			wantCode: ErrCodeLowDifficulty,
			wantMsg:  "invalid share",
			wantDiff: 1,
		},
		{
			name:     "unknown job",
			modify:   func(s *Submission) { s.JobID = "ff" },
			wantCode: ErrCodeJobNotFound,
			wantMsg:  "job not found",
			wantDiff: 1,
		},
		{
			name:     "extranonce2 size",
			modify:   func(s *Submission) { s.ExtraNonce2 = "00" },
			wantCode: ErrCodeOther,
			wantMsg:  "incorrect size of extranonce2",
			wantDiff: 1,
		},
		{
			name:     "ntime before template",
			modify:   func(s *Submission) { s.NTime = "5f5e0fff" },
			wantCode: ErrCodeOther,
			wantMsg:  "ntime out of range",
			wantDiff: 1,
		},
		{
			name:     "ntime too far ahead",
			modify:   func(s *Submission) { s.NTime = "7fffffff" },
			wantCode: ErrCodeOther,
			wantMsg:  "ntime out of range",
			wantDiff: 1,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasher.digest, hasher.panics = tt.digest, tt.panics
			sub := utxoSubmission("0000000" + string(rune('0'+i)))
			if tt.modify != nil {
				tt.modify(&sub)
			}

			res := m.ProcessShare(sub)
			ev := nextShare(t, m)

			if tt.wantCode == 0 {
				if !res.Accepted || res.Error != nil {
					t.Fatalf("share rejected: %v", res.Error)
				}
			} else {
				if res.Accepted || res.Error == nil || res.Error.Code != tt.wantCode || res.Error.Message != tt.wantMsg {
					t.Fatalf("result error = %+v, want %d %q", res.Error, tt.wantCode, tt.wantMsg)
				}
			}
			if ev.Share.ErrorCode != tt.wantCode {
				t.Errorf("telemetry error code = %d, want %d", ev.Share.ErrorCode, tt.wantCode)
			}
			if ev.Share.Difficulty != tt.wantDiff {
				t.Errorf("telemetry difficulty = %v, want %v", ev.Share.Difficulty, tt.wantDiff)
			}
			if got := ev.Block != nil; got != tt.wantBlock {
				t.Fatalf("block candidate = %v, want %v", got, tt.wantBlock)
			}
			if tt.wantBlock {
				if ev.Block.Hash != res.BlockHash || len(ev.Block.Hash) != 64 {
					t.Errorf("block hash %q, result hash %q", ev.Block.Hash, res.BlockHash)
				}
				// 80-byte header, one-byte tx count, 11-byte coinbase.
				if len(ev.Block.Hex) != 2*(80+1+11) {
					t.Errorf("block hex length = %d", len(ev.Block.Hex))
				}
				if ev.Share.Height != 100 || ev.Share.BlockReward != 625000000 {
					t.Errorf("telemetry height %d reward %d", ev.Share.Height, ev.Share.BlockReward)
				}
			}
		})
	}
}

func TestProcessShareDuplicate(t *testing.T) {
	hasher := &fakeHasher{digest: digestFor(template.Diff1())}
	m := newTestManager(t, "sha256", algo.WithHasher("sha256", hasher.hash))
	processTemplate(t, m, blockTemplate("01", 100))

	sub := utxoSubmission("0000abcd")
	if res := m.ProcessShare(sub); !res.Accepted {
		t.Fatalf("first submission rejected: %v", res.Error)
	}
	nextShare(t, m)

	sub.Nonce = "0000ABCD"
	res := m.ProcessShare(sub)
	if res.Error == nil || res.Error.Code != ErrCodeDuplicate {
		t.Fatalf("resubmission result = %+v, want duplicate", res.Error)
	}
	if ev := nextShare(t, m); ev.Share.Error != "duplicate share" {
		t.Errorf("telemetry error = %q", ev.Share.Error)
	}
}

func TestProcessShareEmitsInvalidBlockHash(t *testing.T) {
	hasher := &fakeHasher{digest: digestFor(times(template.Diff1(), 2))}
	desc, err := algo.NewRegistry(algo.WithHasher("sha256", hasher.hash)).Lookup("sha256")
	if err != nil {
		t.Fatal(err)
	}
	builder, err := template.NewBuilder(template.BuilderConfig{Algorithm: desc, Coinbase: fakeCoinbase{}})
	if err != nil {
		t.Fatal(err)
	}
	m, err := New(Config{Builder: builder, EmitInvalidBlockHashes: true, Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatal(err)
	}
	processTemplate(t, m, blockTemplate("01", 100))

	sub := utxoSubmission("00000001")
	sub.Difficulty = 0.5
	if res := m.ProcessShare(sub); !res.Accepted {
		t.Fatalf("share rejected: %v", res.Error)
	}
	ev := nextShare(t, m)
	if len(ev.Share.BlockHashInvalid) != 64 || ev.Share.BlockHash != "" {
		t.Errorf("hashes = %q / %q", ev.Share.BlockHash, ev.Share.BlockHashInvalid)
	}
}

func equihashSubmission(nonceByte, solution string) Submission {
	return Submission{
		JobID:       "cccd",
		Difficulty:  1,
		ExtraNonce2: "00000000",
		NTime:       "00105e5f",
		Nonce:       strings.Repeat(nonceByte, 32),
		Solution:    solution,
		Worker:      "zminer",
	}
}

func TestProcessShareEquihash(t *testing.T) {
	hasher := &fakeHasher{digest: digestFor(uint256.NewInt(7))}
	var verified []byte
	valid := true
	verifier := func(header, solution []byte, p algo.Params) (bool, error) {
		if len(header) != template.WideHeaderSize {
			return false, errors.New("bad header")
		}
		verified = solution
		return valid, nil
	}
	m := newTestManager(t, "verushash",
		algo.WithHasher("verushash", hasher.hash),
		algo.WithEquihashVerifier("verushash", verifier),
	)
	processTemplate(t, m, blockTemplate("01", 500))

	solution := "fd4005" + strings.Repeat("ab", 1344)

	res := m.ProcessShare(equihashSubmission("01", solution))
	if !res.Accepted || res.BlockHash == "" {
		t.Fatalf("candidate result = %+v", res)
	}
	if len(verified) != 1344 {
		t.Errorf("verifier got %d solution bytes, want 1344", len(verified))
	}
	ev := nextShare(t, m)
	if ev.Block == nil || ev.Block.Height != 500 {
		t.Fatalf("block candidate = %+v", ev.Block)
	}
	// 140-byte header, 1347-byte solution, tx count, coinbase.
	if len(ev.Block.Hex) != 2*(140+1347+1+11) {
		t.Errorf("block hex length = %d", len(ev.Block.Hex))
	}

	res = m.ProcessShare(equihashSubmission("02", solution[:len(solution)-2]))
	if res.Error == nil || res.Error.Code != ErrCodeOther ||
		res.Error.Message != "Error: Incorrect size of solution (2692), expected 2694" {
		t.Errorf("short solution error = %+v", res.Error)
	}
	nextShare(t, m)

	valid = false
	res = m.ProcessShare(equihashSubmission("03", solution))
	if res.Error == nil || res.Error.Code != ErrCodeOther || res.Error.Message != "invalid solution" {
		t.Errorf("invalid solution error = %+v", res.Error)
	}
	nextShare(t, m)

	valid = true
	hasher.panics = true
	res = m.ProcessShare(equihashSubmission("04", solution))
	if res.Error == nil || res.Error.Code != ErrCodeOther {
		t.Errorf("panicking header hash error = %+v", res.Error)
	}
	nextShare(t, m)

	sub := equihashSubmission("05", solution)
	sub.JobID = "1"
	if res := m.ProcessShare(sub); res.Error == nil || res.Error.Code != ErrCodeJobNotFound {
		t.Errorf("unknown job error = %+v", res.Error)
	}
	nextShare(t, m)
}

func TestProcessShareEquihashDifficulty(t *testing.T) {
	verifier := func([]byte, []byte, algo.Params) (bool, error) { return true, nil }
	m := newTestManager(t, "equihash", algo.WithEquihashVerifier("equihash", verifier))
	processTemplate(t, m, blockTemplate("01", 500))

	job, ok := m.Job("cccd")
	if !ok {
		t.Fatal("job cccd not found")
	}
	ej := job.(*template.EquihashJob)
	solution := "fd4005" + strings.Repeat("ab", 1344)

	// shareDiffFor recomputes the double-SHA256 header hash the manager
	// scores a share with.
	shareDiffFor := func(t *testing.T, sub Submission) float64 {
		t.Helper()
		nTime, _ := fasthex.DecodeString(sub.NTime)
		nonce, _ := fasthex.DecodeString(sub.Nonce)
		sol, _ := fasthex.DecodeString(sub.Solution)
		header, err := ej.SerializeHeader(nTime, nonce)
		if err != nil {
			t.Fatal(err)
		}
		value := template.DigestToInt(chainhash.DoubleHashB(append(header, sol...)))
		if value.Cmp(ej.Target()) <= 0 {
			t.Fatal("fixture share unexpectedly meets the block target")
		}
		return template.ShareDifficulty(value, m.Algorithm().Multiplier)
	}

	tests := []struct {
		name     string
		nonce    string
		modify   func(s *Submission, shareDiff float64)
		wantLow  bool
		wantDiff func(shareDiff float64) float64
	}{
		{
			name:     "below assigned difficulty",
			nonce:    "11",
			modify:   func(s *Submission, _ float64) { s.Difficulty = 1 },
			wantLow:  true,
			wantDiff: func(float64) float64 { return 1 },
		},
		{
			name:     "meets assigned difficulty",
			nonce:    "12",
			modify:   func(s *Submission, d float64) { s.Difficulty = d / 2 },
			wantDiff: func(d float64) float64 { return d / 2 },
		},
		{
			name:  "vardiff grace credits previous difficulty",
			nonce: "13",
			modify: func(s *Submission, d float64) {
				s.Difficulty = 1
				s.PreviousDifficulty = d / 2
			},
			wantDiff: func(d float64) float64 { return d / 2 },
		},
		{
			name:  "grace does not cover a harder previous difficulty",
			nonce: "14",
			modify: func(s *Submission, d float64) {
				s.Difficulty = 1
				s.PreviousDifficulty = d * 2
			},
			wantLow:  true,
			wantDiff: func(float64) float64 { return 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := equihashSubmission(tt.nonce, solution)
			shareDiff := shareDiffFor(t, sub)
			tt.modify(&sub, shareDiff)

			res := m.ProcessShare(sub)
			ev := nextShare(t, m)

			if tt.wantLow {
				want := fmt.Sprintf("low difficulty share of %v", shareDiff)
				if res.Accepted || res.Error == nil || res.Error.Code != ErrCodeLowDifficulty || res.Error.Message != want {
					t.Fatalf("result error = %+v, want 23 %q", res.Error, want)
				}
			} else if !res.Accepted {
				t.Fatalf("share rejected: %v", res.Error)
			}
			if res.BlockHash != "" || ev.Block != nil {
				t.Errorf("non-candidate share produced block %q", res.BlockHash)
			}
			if want := math.Round(shareDiff*1e8) / 1e8; res.ShareDiff != want || ev.Share.ShareDiff != want {
				t.Errorf("share diff = %v / %v, want %v", res.ShareDiff, ev.Share.ShareDiff, want)
			}
			if want := tt.wantDiff(shareDiff); ev.Share.Difficulty != want {
				t.Errorf("telemetry difficulty = %v, want %v", ev.Share.Difficulty, want)
			}
			if ev.Share.Height != 500 {
				t.Errorf("telemetry height = %d", ev.Share.Height)
			}
		})
	}
}

func workTemplate(header string, number uint64) *template.WorkTemplate {
	return &template.WorkTemplate{
		HeaderHash:  "0x" + strings.Repeat(header, 32),
		SeedHash:    "0x" + strings.Repeat("00", 32),
		Target:      "0x0000000100000000000000000000000000000000000000000000000000000000",
		BlockNumber: number,
		HasNumber:   true,
	}
}

func TestProcessShareAccount(t *testing.T) {
	var (
		result   = uint256.NewInt(1)
		gotEpoch uint64
		fail     error
	)
	verifier := func(_ common.Hash, _ uint64, _ common.Hash, epoch uint64) (*uint256.Int, error) {
		gotEpoch = epoch
		return result, fail
	}
	m := newTestManager(t, "ethash", algo.WithDAGVerifier("ethash", verifier))
	job := processTemplate(t, m, workTemplate("aa", 30001))
	if job.Height() != 30001 {
		t.Fatalf("job height = %d", job.Height())
	}

	mix := "0x" + strings.Repeat("cd", 32)
	sub := Submission{JobID: job.ID(), Difficulty: 1, Nonce: "0x0000000000000001", MixHash: mix}

	res := m.ProcessShare(sub)
	if !res.Accepted {
		t.Fatalf("candidate rejected: %v", res.Error)
	}
	if gotEpoch != 1 {
		t.Errorf("epoch = %d, want 1", gotEpoch)
	}
	ev := nextShare(t, m)
	if ev.Block == nil || ev.Block.Work == nil || ev.Block.Work.MixHash != mix || ev.Block.Work.Nonce != sub.Nonce {
		t.Fatalf("block candidate = %+v", ev.Block)
	}

	// Above target: credited, not a block.
	result = new(uint256.Int).Lsh(uint256.NewInt(1), 240)
	sub.Nonce = "0x0000000000000002"
	if res := m.ProcessShare(sub); !res.Accepted {
		t.Errorf("non-candidate rejected: %v", res.Error)
	}
	if ev := nextShare(t, m); ev.Block != nil {
		t.Error("non-candidate reported as block")
	}

	if res := m.ProcessShare(sub); res.Error == nil || res.Error.Code != ErrCodeDuplicate {
		t.Errorf("duplicate error = %+v", res.Error)
	}
	nextShare(t, m)

	sub.Nonce = "0x01"
	if res := m.ProcessShare(sub); res.Error == nil || res.Error.Message != "incorrect size of nonce" {
		t.Errorf("short nonce error = %+v", res.Error)
	}
	nextShare(t, m)

	fail = errors.New("dag unavailable")
	sub.Nonce = "0x0000000000000003"
	if res := m.ProcessShare(sub); res.Error == nil || res.Error.Code != ErrCodeLowDifficulty {
		t.Errorf("verifier failure error = %+v", res.Error)
	}
	nextShare(t, m)

	// Same header hash is the same block; a new header is a new block.
	if ok, _ := m.ProcessTemplate(workTemplate("aa", 30001)); ok {
		t.Error("repeat work reported as new block")
	}
	processTemplate(t, m, workTemplate("bb", 30002))
}

func TestCounters(t *testing.T) {
	c := NewJobCounter()
	if got := c.Next(); got != "1" {
		t.Errorf("first id = %q", got)
	}
	c.value = utxoCounterWrap - 1
	if got := c.Next(); got != "1" {
		t.Errorf("wrapped id = %q, want 1", got)
	}

	eq := NewEquihashJobCounter()
	if got := eq.Next(); got != "cccd" {
		t.Errorf("first equihash id = %q, want cccd", got)
	}

	en := NewExtraNonceCounter(1)
	if a, b := en.Next(), en.Next(); a != "08000000" || b != "08000001" {
		t.Errorf("extranonces = %q, %q", a, b)
	}
	if got := NewExtraNonceCounter(0).Next(); len(got) != 8 {
		t.Errorf("random extranonce = %q", got)
	}
}

func TestDispatch(t *testing.T) {
	m := newTestManager(t, "sha256")

	var mu sync.Mutex
	var seen []string
	record := func(name string) Sink {
		return SinkFunc(func(_ context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+":"+eventName(e))
			return errors.New("ignored")
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Dispatch(ctx, record("a"), record("b")) }()

	if _, err := m.ProcessTemplate(blockTemplate("01", 100)); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateCurrentJob(blockTemplate("01", 100)); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d deliveries", n)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Dispatch() = %v, want context.Canceled", err)
	}

	want := []string{"a:new_block", "b:new_block", "a:updated_block", "b:updated_block"}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("delivery %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestConcurrentSharesAcrossBlocks(t *testing.T) {
	hasher := &fakeHasher{digest: digestFor(template.Diff1())}
	m := newTestManager(t, "sha256", algo.WithHasher("sha256", hasher.hash))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Dispatch(ctx) }()

	if _, err := m.ProcessTemplate(blockTemplate("01", 100)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				sub := utxoSubmission("0000000" + string(rune('0'+w)))
				sub.ExtraNonce2 = "000000" + string(rune('a'+i%6)) + string(rune('0'+i/6))
				res := m.ProcessShare(sub)
				if res.Error != nil && res.Error.Code != ErrCodeJobNotFound {
					t.Errorf("unexpected rejection %v", res.Error)
				}
			}
		}()
	}
	for h := range 5 {
		if _, err := m.ProcessTemplate(blockTemplate("1"+string(rune('0'+h)), int64(101+h))); err != nil {
			t.Error(err)
		}
	}
	wg.Wait()
}
