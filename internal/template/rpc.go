package template

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Transaction is one non-coinbase entry of a getblocktemplate response.
type Transaction struct {
	Data string `json:"data"`
	TxID string `json:"txid,omitempty"`
	Hash string `json:"hash,omitempty"`
	Fee  int64  `json:"fee"`
}

// ID returns the id used as the merkle leaf. Segwit daemons report txid
// separately from the witness hash.
func (t Transaction) ID() string {
	if t.TxID != "" {
		return t.TxID
	}
	return t.Hash
}

// FundingStream is a Zcash-style protocol funding output.
type FundingStream struct {
	Recipient string  `json:"recipient,omitempty"`
	Address   string  `json:"address"`
	Value     float64 `json:"value,omitempty"`
	ValueZat  int64   `json:"valueZat"`
}

// BlockTemplate is the getblocktemplate result for UTXO and Equihash chains.
type BlockTemplate struct {
	Version              uint32          `json:"version"`
	PreviousBlockHash    string          `json:"previousblockhash"`
	Transactions         []Transaction   `json:"transactions"`
	CurTime              uint32          `json:"curtime"`
	Bits                 string          `json:"bits"`
	Target               string          `json:"target"`
	Height               int64           `json:"height"`
	CoinbaseValue        int64           `json:"coinbasevalue,omitempty"`
	MinerReward          float64         `json:"miner,omitempty"`
	FundingStreams       []FundingStream `json:"fundingstreams,omitempty"`
	FinalSaplingRootHash string          `json:"finalsaplingroothash,omitempty"`
	NotaryPayContent     string          `json:"notarypaycontent,omitempty"`
}

// WorkTemplate is the eth_getWork result: [headerHash, seedHash, target]
// with an optional fourth element carrying the pending block number.
type WorkTemplate struct {
	HeaderHash  string
	SeedHash    string
	Target      string
	BlockNumber uint64
	HasNumber   bool
}

// UnmarshalJSON decodes the positional getWork array.
func (w *WorkTemplate) UnmarshalJSON(data []byte) error {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) < 3 {
		return fmt.Errorf("work template has %d fields, want at least 3", len(fields))
	}
	w.HeaderHash, w.SeedHash, w.Target = fields[0], fields[1], fields[2]
	w.BlockNumber, w.HasNumber = 0, false
	if len(fields) > 3 && fields[3] != "" {
		n, err := strconv.ParseUint(trim0x(fields[3]), 16, 64)
		if err != nil {
			return fmt.Errorf("invalid block number %q: %w", fields[3], err)
		}
		w.BlockNumber, w.HasNumber = n, true
	}
	return nil
}

// MarshalJSON encodes the positional getWork array.
func (w WorkTemplate) MarshalJSON() ([]byte, error) {
	fields := []string{w.HeaderHash, w.SeedHash, w.Target}
	if w.HasNumber {
		fields = append(fields, "0x"+strconv.FormatUint(w.BlockNumber, 16))
	}
	return json.Marshal(fields)
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// RPCData is a daemon template of either shape. The job manager compares
// BlockIdentity to detect a new block and BlockHeight to drop stale
// responses from a lagging daemon.
type RPCData interface {
	BlockIdentity() string
	BlockHeight() (int64, bool)
}

var (
	_ RPCData = (*BlockTemplate)(nil)
	_ RPCData = (*WorkTemplate)(nil)
)

// BlockIdentity returns the previous block hash.
func (t *BlockTemplate) BlockIdentity() string { return t.PreviousBlockHash }

// BlockHeight returns the template height.
func (t *BlockTemplate) BlockHeight() (int64, bool) { return t.Height, true }

// BlockIdentity returns the header hash.
func (w *WorkTemplate) BlockIdentity() string { return w.HeaderHash }

// BlockHeight returns the block number when the daemon reported one.
func (w *WorkTemplate) BlockHeight() (int64, bool) { return int64(w.BlockNumber), w.HasNumber }
