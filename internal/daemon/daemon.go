// Package daemon is the coin daemon RPC collaborator: raw and batched JSON-RPC
// calls with per-coin method mapping, template fetch, block submission and
// ZMQ block notifications.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/rpcclient"

	"github.com/bardlex/multipool/internal/template"
	"github.com/bardlex/multipool/pkg/circuit"
	"github.com/bardlex/multipool/pkg/errors"
	"github.com/bardlex/multipool/pkg/log"
	"github.com/bardlex/multipool/pkg/retry"
)

// Request is one call in a batch. Method may be a logical Method name.
type Request struct {
	Method string
	Params []any
}

// Response is the outcome of one call in a batch.
type Response struct {
	Result json.RawMessage
	Err    error
}

// Transport sends encoded JSON-RPC requests.
type Transport interface {
	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
	Batch(methods []string, params [][]json.RawMessage) ([]Response, error)
	Close()
}

// Config holds daemon connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	CoinType CoinType
}

// Client talks to one coin daemon.
type Client struct {
	transport Transport
	coinType  CoinType
	breaker   *circuit.Breaker
	retry     *retry.Config
	logger    *log.Logger
}

// NewClient connects to the daemon over HTTP POST.
func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	t, err := newRPCTransport(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithTransport(t, cfg.CoinType, logger), nil
}

// NewClientWithTransport builds a client over an existing transport.
func NewClientWithTransport(t Transport, coinType CoinType, logger *log.Logger) *Client {
	if coinType == "" {
		coinType = CoinTypeDefault
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		transport: t,
		coinType:  coinType,
		breaker: circuit.New("daemon", &circuit.Config{
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         10 * time.Second,
			ResetTimeout:    30 * time.Second,
		}),
		retry:  retry.DaemonConfig(),
		logger: logger.WithComponent("daemon"),
	}
}

// Close shuts the transport down.
func (c *Client) Close() {
	c.transport.Close()
}

// CoinType returns the configured RPC dialect.
func (c *Client) CoinType() CoinType {
	return c.coinType
}

// Cmd issues one call and returns its raw result.
func (c *Client) Cmd(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	name := c.coinType.Resolve(method)
	encoded, err := encodeParams(params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "daemon_cmd", "cannot encode params").
			WithContext("method", name)
	}

	return circuit.ExecuteWithResult(ctx, c.breaker, func() (json.RawMessage, error) {
		return retry.DoWithResult(ctx, c.retry, func() (json.RawMessage, error) {
			res, err := c.transport.RawRequest(name, encoded)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDaemon, "daemon_cmd", "daemon call failed").
					WithContext("method", name)
			}
			return res, nil
		})
	})
}

// BatchCmd issues several calls in one HTTP request. Per-call failures are
// reported in the matching Response; the error covers the request itself.
func (c *Client) BatchCmd(ctx context.Context, reqs []Request) ([]Response, error) {
	names := make([]string, len(reqs))
	params := make([][]json.RawMessage, len(reqs))
	for i, r := range reqs {
		names[i] = c.coinType.Resolve(r.Method)
		p, err := encodeParams(r.Params)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "daemon_batch", "cannot encode params").
				WithContext("method", names[i])
		}
		params[i] = p
	}

	return circuit.ExecuteWithResult(ctx, c.breaker, func() ([]Response, error) {
		return retry.DoWithResult(ctx, c.retry, func() ([]Response, error) {
			res, err := c.transport.Batch(names, params)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDaemon, "daemon_batch", "daemon batch failed").
					WithContext("calls", len(names))
			}
			return res, nil
		})
	})
}

var templateRequest = map[string]any{
	"capabilities": []string{"coinbasetxn", "workid", "coinbase/append"},
	"rules":        []string{"segwit"},
}

// GetTemplate fetches work: a block template, or getWork output for
// ethereum-type daemons.
func (c *Client) GetTemplate(ctx context.Context) (template.RPCData, error) {
	start := time.Now()
	defer func() { c.logger.LogDuration("get_template", time.Since(start)) }()

	if c.coinType == CoinTypeEthereum {
		raw, err := c.Cmd(ctx, string(MethodGetBlockTemplate))
		if err != nil {
			return nil, err
		}
		var work template.WorkTemplate
		if err := json.Unmarshal(raw, &work); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTemplate, "get_template", "malformed work package")
		}
		return &work, nil
	}

	raw, err := c.Cmd(ctx, string(MethodGetBlockTemplate), templateRequest)
	if err != nil {
		return nil, err
	}
	var tpl template.BlockTemplate
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTemplate, "get_template", "malformed block template")
	}
	return &tpl, nil
}

// SubmitBlock submits a serialized block. The daemon answers null on
// success and a rejection reason otherwise.
func (c *Client) SubmitBlock(ctx context.Context, blockHex string) error {
	raw, err := c.Cmd(ctx, string(MethodSubmitBlock), blockHex)
	if err != nil {
		return err
	}
	var reason *string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reason); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDaemon, "submit_block", "unexpected submitblock response")
		}
	}
	if reason != nil && *reason != "" {
		return errors.Newf(errors.ErrorTypeDaemon, "submit_block", "block rejected: %s", *reason)
	}
	return nil
}

// SubmitWork submits a solved work package to an ethereum-type daemon.
func (c *Client) SubmitWork(ctx context.Context, work template.BlockSubmission) error {
	raw, err := c.Cmd(ctx, string(MethodSubmitBlock), work.Nonce, work.HeaderHash, work.MixHash)
	if err != nil {
		return err
	}
	var accepted bool
	if err := json.Unmarshal(raw, &accepted); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDaemon, "submit_work", "unexpected submitWork response")
	}
	if !accepted {
		return errors.New(errors.ErrorTypeDaemon, "submit_work", "work rejected").
			WithContext("header_hash", work.HeaderHash)
	}
	return nil
}

func encodeParams(params []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(params))
	for i, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

type rpcTransport struct {
	cfg    *rpcclient.ConnConfig
	client *rpcclient.Client
}

func newRPCTransport(cfg Config) (*rpcTransport, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:         cfg.User,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDaemon, "daemon_client", "failed to create RPC client").
			WithContext("host", cfg.Host).
			WithContext("port", cfg.Port)
	}
	return &rpcTransport{cfg: connCfg, client: client}, nil
}

func (t *rpcTransport) RawRequest(method string, params []json.RawMessage) (json.RawMessage, error) {
	return t.client.RawRequest(method, params)
}

func (t *rpcTransport) Batch(methods []string, params [][]json.RawMessage) ([]Response, error) {
	batch, err := rpcclient.NewBatch(t.cfg)
	if err != nil {
		return nil, err
	}
	defer batch.Shutdown()

	futures := make([]rpcclient.FutureRawResult, len(methods))
	for i, m := range methods {
		futures[i] = batch.RawRequestAsync(m, params[i])
	}
	if err := batch.Send(); err != nil {
		return nil, err
	}

	out := make([]Response, len(futures))
	for i, f := range futures {
		out[i].Result, out[i].Err = f.Receive()
	}
	return out, nil
}

func (t *rpcTransport) Close() {
	t.client.Shutdown()
}
