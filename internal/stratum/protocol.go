// Package stratum encodes the Stratum V1 messages exchanged with the
// pool's front-ends: job notifications, forwarded submits and share replies.
package stratum

import (
	"encoding/json"
	"fmt"

	"github.com/bardlex/multipool/internal/jobmanager"
)

// Stratum methods
const (
	MethodNotify = "mining.notify"
	MethodSubmit = "mining.submit"
)

// Message represents a Stratum JSON-RPC message
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error represents a Stratum error response
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewResponse creates a new response message
func NewResponse(id any, result any) *Message {
	return &Message{
		ID:     id,
		Result: result,
	}
}

// NewErrorResponse creates a new error response message
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{
		ID: id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// NewNotification creates a new notification message
func NewNotification(method string, params []any) *Message {
	return &Message{
		ID:     nil,
		Method: method,
		Params: params,
	}
}

// Notify builds mining.notify from a job's ordered parameters.
func Notify(params []any) *Message {
	return NewNotification(MethodNotify, params)
}

// ShareResponse answers the mining.submit request id with the share result.
func ShareResponse(id any, res jobmanager.Result) *Message {
	if res.Error != nil {
		return NewErrorResponse(id, res.Error.Code, res.Error.Message)
	}
	return NewResponse(id, res.Accepted)
}

// IsNotification returns true if the message is a notification
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}
