// Package workflow runs the end-to-end processing of one inbound message:
// load memory, render a prompt, generate a reply, send it, and commit the
// interaction back to the memory store. Workflows for different users run in
// parallel; workflows for the same user are serialized by a per-user lease.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lewisedginton/sentio/internal/generation"
	"github.com/lewisedginton/sentio/internal/memory"
	"github.com/lewisedginton/sentio/internal/memory_store"
	"github.com/lewisedginton/sentio/internal/prompt_catalog"
	"github.com/lewisedginton/sentio/pkg/logger"
	"github.com/lewisedginton/sentio/pkg/metrics"
)

const summaryLimit = 240

// Config holds orchestrator settings.
type Config struct {
	// Deadline bounds one whole workflow. Zero means no deadline.
	Deadline time.Duration

	// PromptCategory selects the template family. Variant is chosen per
	// message: "first_contact" for unseen users, "reply" otherwise.
	PromptCategory string

	// Cost rates in USD per million tokens, for the persisted cost field.
	PromptCostPerMillion     float64
	CompletionCostPerMillion float64
}

// Orchestrator drives the per-message state machine.
type Orchestrator struct {
	store     memory_store.Store
	catalog   *prompt_catalog.Catalog
	generator Generator
	sender    Sender
	extract   DeltaExtractor
	cfg       Config
	log       logger.Logger
	metrics   *metrics.Metrics

	userLocks   map[string]*sync.Mutex
	userLockMux sync.Mutex
}

// Options wires the orchestrator's collaborators. Extractor and Metrics may
// be nil.
type Options struct {
	Store     memory_store.Store
	Catalog   *prompt_catalog.Catalog
	Generator Generator
	Sender    Sender
	Extractor DeltaExtractor
	Config    Config
	Logger    logger.Logger
	Metrics   *metrics.Metrics
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Store == nil {
		panic("store cannot be nil")
	}
	if opts.Catalog == nil {
		panic("prompt catalog cannot be nil")
	}
	if opts.Generator == nil {
		panic("generator cannot be nil")
	}
	if opts.Sender == nil {
		panic("sender cannot be nil")
	}
	if opts.Logger == nil {
		panic("logger cannot be nil")
	}
	if opts.Extractor == nil {
		opts.Extractor = func(*memory.MemoryRecord, Exchange) error { return nil }
	}
	if opts.Config.PromptCategory == "" {
		opts.Config.PromptCategory = "email"
	}

	return &Orchestrator{
		store:     opts.Store,
		catalog:   opts.Catalog,
		generator: opts.Generator,
		sender:    opts.Sender,
		extract:   opts.Extractor,
		cfg:       opts.Config,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// Process runs one inbound message through the full workflow. A terminal
// failure produces no outbound reply; the failure is visible only through the
// persisted log and metrics. A send failure after generation still commits
// the interaction, flagged send_failed, so incurred cost is never lost.
func (o *Orchestrator) Process(ctx context.Context, msg InboundMessage) (*Result, error) {
	if msg.SenderAddress == "" {
		return nil, &WorkflowError{Stage: StageReceived, Err: errors.New("sender address cannot be empty")}
	}

	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}

	start := time.Now()
	userID := msg.SenderAddress
	o.log.Info("Workflow started",
		logger.UserField(userID),
		logger.StageField("stage", StageReceived))

	// Per-user lease: at most one in-flight workflow per user, held from
	// memory load through commit.
	lock := o.getUserLock(userID)
	lock.Lock()
	defer lock.Unlock()

	record, firstContact, err := o.loadMemory(ctx, userID)
	if err != nil {
		return nil, o.fail(msg, StageMemoryLoaded, err)
	}
	o.log.Debug("Memory loaded",
		logger.UserField(userID),
		logger.BoolField("first_contact", firstContact),
		logger.StageField("stage", StageMemoryLoaded))

	variant := "reply"
	if firstContact {
		variant = "first_contact"
	}
	rendered, err := o.catalog.Render(o.cfg.PromptCategory, variant, promptContext(record, msg))
	if err != nil {
		return nil, o.fail(msg, StagePromptRendered, err)
	}

	resp, err := o.generator.Generate(ctx, generation.Request{
		Instruction: rendered.Instruction,
		Turn:        rendered.Turn,
	})
	if err != nil {
		stage := StageGenerating
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			stage = StageTimeout
		}
		return nil, o.fail(msg, stage, err)
	}

	// The deadline can lapse while the reply is being generated, even when
	// the generator itself returned a reply. A timed-out workflow sends and
	// commits nothing.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, o.fail(msg, StageTimeout, ctxErr)
	}

	// ReplyComposed: derive the outbound body and the memory deltas. At
	// minimum the deltas are one inbound and one outbound log entry.
	replyBody := resp.Content
	cost := o.callCost(resp.Usage)

	inboundLog := memory.NewInteractionLog(memory.DirectionInbound, summarize(msg.BodyText))
	if !msg.ReceivedAt.IsZero() {
		inboundLog.Timestamp = msg.ReceivedAt.UTC()
	}
	outboundLog := memory.NewInteractionLog(memory.DirectionOutbound, summarize(replyBody))
	outboundLog.ModelVersion = resp.Model
	outboundLog.PromptTokens = resp.Usage.PromptTokens
	outboundLog.CompletionTokens = resp.Usage.CompletionTokens
	outboundLog.CostUSD = cost

	if err := o.extract(record, Exchange{Inbound: msg, Reply: replyBody}); err != nil {
		o.log.Warn("Delta extraction failed, committing logs only",
			logger.UserField(userID),
			logger.ErrorField(err))
	}
	o.log.Debug("Reply composed",
		logger.UserField(userID),
		logger.StageField("stage", StageReplyComposed))

	result := &Result{
		UserID:       userID,
		ReplyBody:    replyBody,
		FirstContact: firstContact,
		Usage:        resp.Usage,
		CostUSD:      cost,
	}

	var sendErr error
	messageID, err := o.sender.Send(ctx, OutgoingMessage{
		RecipientAddress: msg.SenderAddress,
		Subject:          replySubject(msg.Subject),
		Body:             replyBody,
	})
	if err != nil {
		// Generation cost is already incurred; flag the log entry and
		// keep going so the commit records it.
		outboundLog.SendFailed = true
		outboundLog.FailureStage = StageSent.String()
		result.SendFailed = true
		sendErr = &WorkflowError{UserID: userID, Stage: StageSent, Err: err}
		if o.metrics != nil {
			o.metrics.SendFailuresCounter.Inc()
			o.metrics.ObserveFailure(StageSent.String())
		}
		o.log.Error("Outbound send failed",
			logger.UserField(userID),
			logger.StageField("stage", StageSent),
			logger.ErrorField(err))
	} else {
		result.MessageID = messageID
		o.log.Info("Reply sent",
			logger.UserField(userID),
			logger.StringField("message_id", messageID),
			logger.StageField("stage", StageSent))
	}

	// Committed: sends are not transactional with persistence. A commit
	// failure is reported but the already-sent reply stands.
	if err := o.commit(ctx, record, inboundLog, outboundLog); err != nil {
		if o.metrics != nil {
			o.metrics.ObserveFailure(StageCommitted.String())
		}
		o.log.Error("Commit failed after send",
			logger.UserField(userID),
			logger.StageField("stage", StageCommitted),
			logger.ErrorField(err))
		return result, &WorkflowError{UserID: userID, Stage: StageCommitted, Err: err}
	}

	if sendErr != nil {
		return result, sendErr
	}

	if o.metrics != nil {
		o.metrics.ObserveWorkflow(time.Since(start))
	}
	o.log.Info("Workflow committed",
		logger.UserField(userID),
		logger.DurationField("duration", time.Since(start)),
		logger.Float64Field("cost_usd", cost),
		logger.StageField("stage", StageCommitted))
	return result, nil
}

// loadMemory fetches the user's record, synthesizing an empty one on first
// contact. Store unavailability and validation failures propagate.
func (o *Orchestrator) loadMemory(ctx context.Context, userID string) (*memory.MemoryRecord, bool, error) {
	record, err := o.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, memory_store.ErrNotFound) {
			return memory.NewMemoryRecord(userID), true, nil
		}
		return nil, false, err
	}
	return record, false, nil
}

// commit persists the interaction log entries and the record snapshot.
func (o *Orchestrator) commit(ctx context.Context, record *memory.MemoryRecord, entries ...memory.InteractionLog) error {
	for _, entry := range entries {
		if err := o.store.AppendInteraction(ctx, record.UserID, entry); err != nil {
			return fmt.Errorf("failed to append %s log: %w", entry.Direction, err)
		}
	}
	if err := o.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// fail records a terminal failure: no reply goes out, but a best-effort log
// entry is written so operators can recognize redelivery of the same message.
func (o *Orchestrator) fail(msg InboundMessage, stage Stage, cause error) error {
	userID := msg.SenderAddress
	if o.metrics != nil {
		o.metrics.ObserveFailure(stage.String())
	}
	o.log.Error("Workflow failed",
		logger.UserField(userID),
		logger.StageField("stage", stage),
		logger.ErrorField(cause))

	// The workflow context may already be expired; use a short detached
	// one for the failure record.
	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := memory.NewInteractionLog(memory.DirectionInbound, summarize(msg.BodyText))
	if !msg.ReceivedAt.IsZero() {
		entry.Timestamp = msg.ReceivedAt.UTC()
	}
	entry.FailureStage = stage.String()
	if err := o.store.AppendInteraction(logCtx, userID, entry); err != nil {
		o.log.Warn("Failed to persist failure log entry",
			logger.UserField(userID),
			logger.ErrorField(err))
	}

	return &WorkflowError{UserID: userID, Stage: stage, Err: cause}
}

func (o *Orchestrator) callCost(usage generation.TokenUsage) float64 {
	return float64(usage.PromptTokens)*o.cfg.PromptCostPerMillion/1e6 +
		float64(usage.CompletionTokens)*o.cfg.CompletionCostPerMillion/1e6
}

// getUserLock returns a user-specific lock, creating it if necessary.
func (o *Orchestrator) getUserLock(userID string) *sync.Mutex {
	o.userLockMux.Lock()
	defer o.userLockMux.Unlock()

	if lock, exists := o.userLocks[userID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	o.userLocks[userID] = lock
	return lock
}

// promptContext flattens the memory record and inbound message into the
// substitution context. Structured sections are serialized by the catalog.
func promptContext(record *memory.MemoryRecord, msg InboundMessage) map[string]any {
	return map[string]any{
		"user_name":           record.Profile.Name,
		"profile":             record.Profile,
		"preferences":         record.Semantic.Preferences,
		"habits":              record.Semantic.Habits,
		"events":              record.Semantic.Events,
		"tasks":               record.ActionState.Tasks,
		"strategy":            record.Strategic.Strategy,
		"hypotheses":          record.Strategic.Hypotheses,
		"recent_interactions": record.Episodic,
		"subject":             msg.Subject,
		"message":             msg.BodyText,
	}
}

func replySubject(subject string) string {
	if subject == "" {
		return ""
	}
	if len(subject) >= 4 && (subject[:4] == "Re: " || subject[:4] == "RE: ") {
		return subject
	}
	return "Re: " + subject
}

// summarize bounds a free-text body for the interaction log, cutting on a
// rune boundary.
func summarize(text string) string {
	if len(text) <= summaryLimit {
		return text
	}
	cut := summaryLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
