package daemon

// CoinType selects the RPC dialect a daemon speaks.
type CoinType string

const (
	CoinTypeDefault  CoinType = "default"
	CoinTypeEthereum CoinType = "ethereum"
	CoinTypeZcash    CoinType = "zcash"
	CoinTypeEquihash CoinType = "equihash"
	CoinTypeBeam     CoinType = "beam"
	CoinTypeVertcoin CoinType = "vertcoin"
)

// Method is a logical daemon call, translated per coin type.
type Method string

const (
	MethodGetInfo          Method = "getInfo"
	MethodGetBlock         Method = "getBlock"
	MethodGetBlockHash     Method = "getBlockHash"
	MethodGetBlockTemplate Method = "getBlockTemplate"
	MethodSubmitBlock      Method = "submitBlock"
	MethodValidateAddress  Method = "validateAddress"
	MethodGetAddressInfo   Method = "getAddressInfo"
	MethodSendToAddress    Method = "sendToAddress"
)

var bitcoinMethods = map[Method]string{
	MethodGetInfo:          "getinfo",
	MethodGetBlock:         "getblock",
	MethodGetBlockHash:     "getblockhash",
	MethodGetBlockTemplate: "getblocktemplate",
	MethodSubmitBlock:      "submitblock",
	MethodValidateAddress:  "validateaddress",
}

var methods = map[CoinType]map[Method]string{
	CoinTypeDefault:  bitcoinMethods,
	CoinTypeBeam:     bitcoinMethods,
	CoinTypeVertcoin: bitcoinMethods,
	CoinTypeEquihash: bitcoinMethods,
	CoinTypeEthereum: {
		MethodGetInfo:          "eth_getBlockByNumber",
		MethodGetBlock:         "eth_getBlockByHash",
		MethodGetBlockHash:     "eth_getBlockByNumber",
		MethodGetBlockTemplate: "eth_getWork",
		MethodSubmitBlock:      "eth_submitWork",
		MethodValidateAddress:  "eth_getCode",
	},
	CoinTypeZcash: {
		MethodGetInfo:          "getinfo",
		MethodGetBlock:         "getblock",
		MethodGetBlockHash:     "getblockhash",
		MethodGetBlockTemplate: "getblocktemplate",
		MethodSubmitBlock:      "submitblock",
		MethodValidateAddress:  "z_validateaddress",
		MethodGetAddressInfo:   "z_getbalance",
		MethodSendToAddress:    "z_sendmany",
	},
}

// Known reports whether t is a supported coin type.
func (t CoinType) Known() bool {
	_, ok := methods[t]
	return ok
}

// Resolve returns the wire method name for m. Names without a mapping for
// the coin type are passed through unchanged.
func (t CoinType) Resolve(m string) string {
	table, ok := methods[t]
	if !ok {
		table = methods[CoinTypeDefault]
	}
	if name, ok := table[Method(m)]; ok {
		return name
	}
	return m
}
