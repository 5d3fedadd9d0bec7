// Package core provides the tool framework agents call into: tool
// contracts, per-tool policies and a registry that enforces them.
package core

import (
	"context"
	"encoding/json"
	"time"
)

// Tool execution status constants.
const (
	ToolComplete = "complete"
	ToolFailed   = "failed"
	ToolCanceled = "canceled"
)

// Metadata keys understood by the registry.
const (
	MetaRetriable = "retriable"
	MetaAttempts  = "attempts"
)

// RiskClass labels what a tool can do to an account.
type RiskClass string

const (
	RiskClassReadOnly RiskClass = "read-only"
	RiskClassTrading  RiskClass = "trading"
)

// Tool is an agent-callable operation.
type Tool interface {
	Name() string
	Description() string
	InputSchema() []byte
	OutputSchema() []byte
	Execute(tc *ToolContext) *ToolExecResult
}

// ToolContext carries context for tool execution.
type ToolContext struct {
	Ctx     context.Context
	Request *Message
}

// ToolExecResult is the result of a tool execution.
type ToolExecResult struct {
	Status   string         `json:"status"`
	Output   any            `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Failed reports whether the tool did not complete.
func (r *ToolExecResult) Failed() bool {
	return r == nil || r.Status != ToolComplete
}

// Message represents a message in the agent framework.
type Message struct {
	Role    string              `json:"role,omitempty"`
	Content string              `json:"content,omitempty"`
	ToolReq *ToolRequestPayload `json:"tool_req,omitempty"`
}

// ToolRequestPayload holds tool invocation data.
type ToolRequestPayload struct {
	Name     string          `json:"name,omitempty"`
	Input    any             `json:"input,omitempty"`
	InputRaw json.RawMessage `json:"input_raw,omitempty"`
}

// NewToolRequest builds a request message for a tool from raw JSON input.
func NewToolRequest(name string, input json.RawMessage) *Message {
	return &Message{
		Role:    "tool",
		ToolReq: &ToolRequestPayload{Name: name, InputRaw: input},
	}
}

// ToolPolicy defines rate limiting and retry policies for tools.
type ToolPolicy struct {
	MaxRetries      int           `json:"max_retries"`
	BaseBackoff     time.Duration `json:"base_backoff"`
	MaxBackoff      time.Duration `json:"max_backoff"`
	Retriable       bool          `json:"retriable"`
	DefaultTimeout  time.Duration `json:"default_timeout"`
	RateLimitPerSec float64       `json:"rate_limit_per_sec"`
	Burst           int           `json:"burst"`
	LimitKey        string        `json:"limit_key"`
	BudgetPerDay    float64       `json:"budget_per_day"`
	CostPerCall     float64       `json:"cost_per_call"`
}
