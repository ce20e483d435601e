// internal/model/modem.go
package model

import (
	"time"

	"modem-service/internal/protocol"
	"modem-service/internal/transport"
)

// ModemStatus represents the service's view of the modem
type ModemStatus struct {
	Link         string             `json:"link"`
	LinkType     string             `json:"link_type"`
	Running      bool               `json:"running"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	LastActivity *time.Time         `json:"last_activity,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	Session      *protocol.Snapshot `json:"session,omitempty"`
	Transport    *transport.Stats   `json:"transport,omitempty"`
}

// ExecuteRequest runs a bare command
type ExecuteRequest struct {
	Command   string `json:"command" binding:"required"`
	TimeoutMs int    `json:"timeout_ms"`
}

// QueryRequest reads a parameter
type QueryRequest struct {
	Command     string `json:"command" binding:"required"`
	MaxParamLen int    `json:"max_param_len"`
	All         bool   `json:"all"`
	TimeoutMs   int    `json:"timeout_ms"`
}

// SetRequest assigns parameters. Strings are quoted and escaped, numbers
// and booleans are written bare.
type SetRequest struct {
	Command   string        `json:"command" binding:"required"`
	Params    []interface{} `json:"params"`
	TimeoutMs int           `json:"timeout_ms"`
}

// JoinRequest associates with a network
type JoinRequest struct {
	SSID     string `json:"ssid" binding:"required"`
	Password string `json:"password"`
}

// DialRequest opens a link slot
type DialRequest struct {
	Network string `json:"network" binding:"required,oneof=TCP UDP SSL tcp udp ssl"`
	Host    string `json:"host" binding:"required"`
	Port    int    `json:"port" binding:"required,min=1,max=65535"`
}

// SendRequest carries payload for a link slot
type SendRequest struct {
	Data     string `json:"data" binding:"required"`
	Encoding string `json:"encoding" binding:"omitempty,oneof=text base64 hex"`
}

// InboundRequest registers a receive buffer
type InboundRequest struct {
	MaxLen int `json:"max_len" binding:"required,min=1,max=65536"`
}

// TimeoutRequest changes one timeout class
type TimeoutRequest struct {
	TimeoutMs int `json:"timeout_ms" binding:"required,min=1"`
}

// ExchangeResult is the outcome of one command exchange
type ExchangeResult struct {
	Command  string   `json:"command"`
	Lines    []string `json:"lines,omitempty"`
	Value    string   `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"`
	Duration int64    `json:"duration_ms"`
}

// InboundPayload is a delivered inbound buffer
type InboundPayload struct {
	Handle    int                `json:"handle"`
	Slot      int                `json:"slot"`
	Remote    *protocol.Endpoint `json:"remote,omitempty"`
	Data      []byte             `json:"data"`
	Text      string             `json:"text,omitempty"`
	Announced int                `json:"announced"`
	Truncated bool               `json:"truncated"`
	Partial   bool               `json:"partial"`
}
