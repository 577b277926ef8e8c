package daemon

import (
	"context"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/pkg/log"
)

// TopicHashBlock is the daemon's ZMQ topic for new block hashes.
const TopicHashBlock = "hashblock"

const pollInterval = 250 * time.Millisecond

// BlockHandler is called with the display-order hash of each new block.
type BlockHandler func(blockHash string) error

// Notifier subscribes to a daemon's ZMQ publisher.
type Notifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewNotifier creates a SUB socket for endpoint.
func NewNotifier(endpoint string, logger *log.Logger) (*Notifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq"),
	}, nil
}

// Connect subscribes to hashblock and connects.
func (n *Notifier) Connect() error {
	if err := n.socket.SetSubscribe(TopicHashBlock); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicHashBlock, err)
	}
	if err := n.socket.Connect(n.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", n.endpoint, err)
	}
	n.logger.Info("connected to ZMQ endpoint", "endpoint", n.endpoint)
	return nil
}

// Listen delivers block notifications to handler until ctx is done.
func (n *Notifier) Listen(ctx context.Context, handler BlockHandler) error {
	poller := zmq.NewPoller()
	poller.Add(n.socket, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			n.logger.WithError(err).Warn("ZMQ poll failed")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := n.socket.RecvMessageBytes(0)
		if err != nil {
			n.logger.WithError(err).Warn("failed to receive ZMQ message")
			continue
		}
		if err := HandleMessage(msg, handler); err != nil {
			n.logger.WithError(err).Warn("failed to handle ZMQ message")
		}
	}
}

// Close closes the socket.
func (n *Notifier) Close() error {
	return n.socket.Close()
}

// HandleMessage decodes a multipart ZMQ message and calls handler for
// hashblock notifications. Other topics are ignored.
func HandleMessage(parts [][]byte, handler BlockHandler) error {
	if len(parts) < 2 {
		return fmt.Errorf("malformed ZMQ message with %d parts", len(parts))
	}
	if string(parts[0]) != TopicHashBlock {
		return nil
	}
	if len(parts[1]) != 32 {
		return fmt.Errorf("invalid block hash length: %d", len(parts[1]))
	}
	return handler(fasthex.EncodeToString(algo.Reverse(parts[1])))
}
