package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/lewisedginton/sentio/internal/generation"
	"github.com/lewisedginton/sentio/internal/memory"
)

// Stage identifies where a workflow is in its lifecycle. Failures are tagged
// with the stage they occurred in.
type Stage int

const (
	StageReceived Stage = iota
	StageMemoryLoaded
	StagePromptRendered
	StageGenerating
	StageReplyComposed
	StageSent
	StageCommitted
	StageTimeout
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageMemoryLoaded:
		return "memory_loaded"
	case StagePromptRendered:
		return "prompt_rendered"
	case StageGenerating:
		return "generating"
	case StageReplyComposed:
		return "reply_composed"
	case StageSent:
		return "sent"
	case StageCommitted:
		return "committed"
	case StageTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// InboundMessage is one deduplicated, well-formed message from the inbound
// source.
type InboundMessage struct {
	SenderAddress string
	Subject       string
	BodyText      string
	ReceivedAt    time.Time
}

// OutgoingMessage is a reply handed to the outbound sender.
type OutgoingMessage struct {
	RecipientAddress string
	Subject          string
	Body             string
}

// Sender delivers outgoing messages. The workflow does not retry sends; that
// is the sender's business if it chooses.
type Sender interface {
	Send(ctx context.Context, msg OutgoingMessage) (messageID string, err error)
}

// Source supplies inbound messages, already deduplicated.
type Source interface {
	Receive(ctx context.Context) (*InboundMessage, error)
}

// Generator is the generation capability the workflow depends on.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Response, error)
}

// SendError reports a delivery failure from the outbound sender.
type SendError struct {
	Reason string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("send failed: %s", e.Reason)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// WorkflowError wraps a terminal workflow failure with the stage it happened
// in and the user it concerned.
type WorkflowError struct {
	UserID string
	Stage  Stage
	Err    error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow failed for %s at %s: %v", e.UserID, e.Stage, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Exchange pairs the inbound message with the generated reply for delta
// extraction.
type Exchange struct {
	Inbound InboundMessage
	Reply   string
}

// DeltaExtractor derives memory updates from a completed exchange by mutating
// the record's snapshot sections. Which facts to extract is deliberately
// pluggable; the default extractor changes nothing.
type DeltaExtractor func(record *memory.MemoryRecord, exchange Exchange) error

// Result reports a completed workflow.
type Result struct {
	UserID       string
	MessageID    string
	ReplyBody    string
	FirstContact bool
	SendFailed   bool
	Usage        generation.TokenUsage
	CostUSD      float64
}
