package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxResponseBody caps how much of a gateway response is read.
const maxResponseBody = 64 << 10

// maxTrackedLeads bounds the per-lead record of recipients already reached.
const maxTrackedLeads = 4096

// WhatsAppConfig configures a WhatsAppSink.
type WhatsAppConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// LawyerNumbers receive the lead summary on every completion.
	LawyerNumbers []string
}

// WhatsAppSink sends the welcome message to the lead and the lead summary to
// each configured lawyer through a Baileys-style HTTP gateway.
//
// An attempt fails if any recipient fails. Recipients reached by an earlier
// attempt for the same correlation id are skipped on retry, so a lawyer
// outage does not send the lead a second welcome.
type WhatsAppSink struct {
	baseURL string
	apiKey  string
	lawyers []string
	client  *http.Client

	mu      sync.Mutex
	reached map[string]map[string]bool
}

// NewWhatsAppSink creates a sink. client may be nil.
func NewWhatsAppSink(cfg WhatsAppConfig, client *http.Client) (*WhatsAppSink, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("whatsapp: base URL is required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	var lawyers []string
	for _, n := range cfg.LawyerNumbers {
		if n = strings.TrimSpace(n); n != "" {
			lawyers = append(lawyers, n)
		}
	}
	return &WhatsAppSink{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		lawyers: lawyers,
		client:  client,
		reached: make(map[string]map[string]bool),
	}, nil
}

// Name implements Sink.
func (s *WhatsAppSink) Name() string { return "whatsapp" }

type sendRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

type outbound struct {
	role  string
	phone string
	text  string
}

// Send posts the welcome to the lead, then the summary to every lawyer.
func (s *WhatsAppSink) Send(ctx context.Context, p Payload) error {
	if p.Phone == "" {
		return fmt.Errorf("%w: no phone number", ErrSinkRejected)
	}

	msgs := []outbound{{role: "lead", phone: p.Phone, text: p.Message}}
	if p.Summary != "" {
		for _, n := range s.lawyers {
			msgs = append(msgs, outbound{role: "lawyer", phone: n, text: p.Summary})
		}
	}

	var errs []error
	for _, m := range msgs {
		if s.wasReached(p.CorrelationID, m.phone) {
			continue
		}
		if err := s.post(ctx, m.phone, m.text); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", m.role, m.phone, err))
			continue
		}
		s.markReached(p.CorrelationID, m.phone)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.forget(p.CorrelationID)
	return nil
}

func (s *WhatsAppSink) wasReached(correlationID, phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reached[correlationID][phone]
}

func (s *WhatsAppSink) markReached(correlationID, phone string) {
	if correlationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.reached[correlationID]
	if !ok {
		if len(s.reached) >= maxTrackedLeads {
			clear(s.reached)
		}
		set = make(map[string]bool)
		s.reached[correlationID] = set
	}
	set[phone] = true
}

func (s *WhatsAppSink) forget(correlationID string) {
	s.mu.Lock()
	delete(s.reached, correlationID)
	s.mu.Unlock()
}

// post sends one message to {base}/send-message.
func (s *WhatsAppSink) post(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(sendRequest{PhoneNumber: phone, Message: text})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/send-message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// Older gateways answer 200 with a plain-text body.
		return nil
	}
	if out.Success || out.Status == "success" {
		return nil
	}
	msg := out.Error
	if msg == "" {
		msg = "success flag not set"
	}
	return fmt.Errorf("%w: %s", ErrSinkRejected, msg)
}

// GatewayHealth is the gateway's connection report.
type GatewayHealth struct {
	Connected   bool   `json:"isConnected"`
	HasQR       bool   `json:"hasQR"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Health queries {base}/health.
func (s *WhatsAppSink) Health(ctx context.Context) (GatewayHealth, error) {
	var h GatewayHealth
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return h, fmt.Errorf("create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return h, fmt.Errorf("gateway health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("gateway health returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&h); err != nil {
		return h, fmt.Errorf("decode gateway health: %w", err)
	}
	return h, nil
}

func (s *WhatsAppSink) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
