// Package notify delivers directory lifecycle events to an outbound webhook
// as signed CloudEvents.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bturcanu/adgateway/pkg/audit"
)

const (
	EventType          = "adgateway.directory.lifecycle"
	SignatureHeader    = "X-ADG-Signature-256"
	defaultQueueSize   = 256
	defaultMaxAttempts = 5
	maxBackoff         = time.Minute
)

// Notification is the data payload of one lifecycle CloudEvent.
type Notification struct {
	EventID     string    `json:"event_id"`
	CallerID    string    `json:"caller_id,omitempty"`
	Action      string    `json:"action"`
	Region      string    `json:"aws_region"`
	DirectoryID string    `json:"directory_id,omitempty"`
	Outcome     string    `json:"outcome"`
	Status      string    `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Hash        string    `json:"audit_hash,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// FromEvent summarises an audit event for subscribers.
func FromEvent(ev *audit.Event) Notification {
	n := Notification{
		EventID:     ev.EventID,
		CallerID:    ev.CallerID,
		Action:      string(ev.Action),
		Region:      ev.Region,
		DirectoryID: ev.DirectoryID,
		Outcome:     "success",
		Status:      string(ev.Result.Status),
		Error:       ev.Result.Error,
		ErrorKind:   string(ev.Result.Kind),
		Hash:        ev.Hash,
		ReceivedAt:  ev.ReceivedAt,
	}
	if !ev.Result.OK() {
		n.Outcome = "failure"
	}
	return n
}

type cloudEvent struct {
	SpecVersion     string       `json:"specversion"`
	ID              string       `json:"id"`
	Type            string       `json:"type"`
	Source          string       `json:"source"`
	Subject         string       `json:"subject,omitempty"`
	Time            string       `json:"time"`
	DataContentType string       `json:"datacontenttype"`
	Data            Notification `json:"data"`
}

// BuildCloudEvent renders n as a structured-mode CloudEvent.
func BuildCloudEvent(n Notification, source string, at time.Time) ([]byte, error) {
	return json.Marshal(cloudEvent{
		SpecVersion:     "1.0",
		ID:              n.EventID,
		Type:            EventType,
		Source:          source,
		Subject:         n.DirectoryID,
		Time:            at.UTC().Format(time.RFC3339Nano),
		DataContentType: "application/json",
		Data:            n,
	})
}

// SignBodyHMACSHA256 returns the signature header value for body.
func SignBodyHMACSHA256(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ValidateWebhookURL accepts only https URLs that do not point at a literal
// loopback, private or link-local address.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("only https scheme allowed, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/loopback IP not allowed: %s", ip)
		}
	}
	return nil
}

// Options tunes a Webhook. Zero values pick the defaults.
type Options struct {
	Secret      string
	Source      string
	QueueSize   int
	MaxAttempts int
	HTTPClient  *http.Client

	// SkipURLValidation allows plain-http and private targets (tests only).
	SkipURLValidation bool
}

// Webhook queues notifications and delivers them from a single worker.
// Delivery is best effort: a full queue drops the notification.
type Webhook struct {
	url         string
	secret      string
	source      string
	maxAttempts int
	httpClient  *http.Client
	log         *slog.Logger
	backoff     func(attempt int) time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Notification
	wg     sync.WaitGroup
	once   sync.Once
}

func NewWebhook(target string, opts Options, log *slog.Logger) (*Webhook, error) {
	if !opts.SkipURLValidation {
		if err := ValidateWebhookURL(target); err != nil {
			return nil, fmt.Errorf("notify webhook: %w", err)
		}
	}
	if opts.Source == "" {
		opts.Source = "adgateway"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{
		url:         target,
		secret:      opts.Secret,
		source:      opts.Source,
		maxAttempts: opts.MaxAttempts,
		httpClient:  opts.HTTPClient,
		log:         log,
		backoff:     backoffForAttempt,
		queue:       make(chan Notification, opts.QueueSize),
	}, nil
}

// Start runs the delivery worker until Close is called. ctx bounds each
// delivery, including its retries.
func (w *Webhook) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for n := range w.queue {
			if err := w.deliverWithRetry(ctx, n); err != nil {
				w.log.Error("lifecycle notification dropped", "event_id", n.EventID, "error", err)
			}
		}
	}()
}

// Enqueue hands n to the worker without blocking. It reports false when the
// queue is full or the webhook is closed.
func (w *Webhook) Enqueue(n Notification) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.log.Warn("notification after close dropped", "event_id", n.EventID)
		return false
	}
	select {
	case w.queue <- n:
		return true
	default:
		w.log.Warn("notification queue full", "event_id", n.EventID)
		return false
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (w *Webhook) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *Webhook) deliverWithRetry(ctx context.Context, n Notification) error {
	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.Deliver(ctx, n); err == nil {
			return nil
		}
		if attempt == w.maxAttempts {
			break
		}
		w.log.Warn("notification delivery failed, retrying", "event_id", n.EventID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff(attempt)):
		}
	}
	return fmt.Errorf("max attempts exceeded: %w", err)
}

// Deliver makes one delivery attempt.
func (w *Webhook) Deliver(ctx context.Context, n Notification) error {
	body, err := BuildCloudEvent(n, w.source, time.Now())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")
	req.Header.Set("Ce-Specversion", "1.0")
	req.Header.Set("Ce-Type", EventType)
	req.Header.Set("Ce-Id", n.EventID)
	req.Header.Set("Ce-Source", w.source)
	if w.secret != "" {
		req.Header.Set(SignatureHeader, SignBodyHMACSHA256(body, w.secret))
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook status=%d", resp.StatusCode)
}

func backoffForAttempt(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	d := time.Second * time.Duration(1<<min(attempt, 8))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
