package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lewisedginton/sentio/internal/workflow"
)

var (
	_ workflow.Source = (*consoleSource)(nil)
	_ workflow.Sender = (*consoleSender)(nil)
)

// consoleSource reads inbound messages from a reader, one per line, in the
// form "sender@example.com: message text". Intended for local smoke runs; a
// real deployment replaces it with a mailbox poller.
type consoleSource struct {
	scanner *bufio.Scanner
}

func newConsoleSource(r io.Reader) *consoleSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &consoleSource{scanner: scanner}
}

// Receive blocks for the next line of input. Returns io.EOF when the input
// is exhausted.
func (s *consoleSource) Receive(ctx context.Context) (*workflow.InboundMessage, error) {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		sender, body, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(sender) == "" {
			return nil, fmt.Errorf("expected \"sender: message\", got %q", line)
		}

		return &workflow.InboundMessage{
			SenderAddress: strings.TrimSpace(sender),
			BodyText:      strings.TrimSpace(body),
			ReceivedAt:    time.Now().UTC(),
		}, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// consoleSender prints outgoing messages instead of delivering them.
type consoleSender struct {
	out io.Writer
}

func newConsoleSender(out io.Writer) *consoleSender {
	return &consoleSender{out: out}
}

func (s *consoleSender) Send(ctx context.Context, msg workflow.OutgoingMessage) (string, error) {
	messageID := uuid.New().String()
	_, err := fmt.Fprintf(s.out, "\n--- outgoing message %s ---\nTo: %s\nSubject: %s\n\n%s\n---\n\n",
		messageID, msg.RecipientAddress, msg.Subject, msg.Body)
	if err != nil {
		return "", &workflow.SendError{Reason: "console write failed", Err: err}
	}
	return messageID, nil
}
