package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
	"github.com/ignite/sparkpost-monitor/internal/pkg/httpretry"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// MailEnvelope is the rendered email handed to a transport (spec §4.I).
type MailEnvelope struct {
	From    string
	ReplyTo string
	To      []string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

// Sender is the single-operation transport capability. A real deployment
// adapts this over SES, SparkPost, or SMTP (spec §9 "collaborator shape,
// not inheritance" — modeled as a narrow interface, not an inherited
// base class, mirroring how the teacher treats its own ESP clients as
// swappable collaborators rather than a shared superclass).
type Sender interface {
	Send(ctx context.Context, env MailEnvelope) error
}

// MemSender is a dev/test Sender that records every envelope it was
// asked to send instead of contacting a real transport.
type MemSender struct {
	mu   sync.Mutex
	sent []MailEnvelope
}

func NewMemSender() *MemSender {
	return &MemSender{}
}

func (s *MemSender) Send(_ context.Context, env MailEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

// Sent returns every envelope recorded so far, in send order.
func (s *MemSender) Sent() []MailEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MailEnvelope, len(s.sent))
	copy(out, s.sent)
	return out
}

// HTTPSender posts an envelope to an HTTP transport endpoint (e.g. an
// internal mail-relay service), retrying transient failures via
// internal/pkg/httpretry the same way the teacher retries its own ESP
// calls. It is the documented seam for a real adapter; wiring it to a
// specific provider (SES, SparkPost, SMTP) is left to the deployment.
type HTTPSender struct {
	endpoint string
	client   *httpretry.RetryClient
}

// NewHTTPSender builds an HTTPSender that posts JSON-encoded envelopes to
// endpoint, retrying transient failures up to maxRetries times.
func NewHTTPSender(endpoint string, maxRetries int) *HTTPSender {
	return &HTTPSender{
		endpoint: endpoint,
		client:   httpretry.NewRetryClient(nil, maxRetries),
	}
}

func (s *HTTPSender) Send(ctx context.Context, env MailEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return notifyerr.Wrap(notifyerr.RenderFailure, "encode mail envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "build transport request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn("transport send failed", "endpoint", s.endpoint, "err", err.Error())
		return notifyerr.Wrap(notifyerr.TransientInfra, "transport send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return notifyerr.New(notifyerr.TransientInfra, fmt.Sprintf("transport send: status %d", resp.StatusCode))
	}
	return nil
}
