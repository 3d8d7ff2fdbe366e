package trigger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"

	"github.com/hazyhaar/docpipeline/horosafe"
)

// Event attributes of processed-document notifications.
const (
	EventSource = "/docpipeline"
	EventType   = "com.docpipeline.document.processed"
)

// WebhookConfig describes one CloudEvents webhook.
type WebhookConfig struct {
	Name      string        `yaml:"name"`
	URL       string        `yaml:"url"`
	EventType string        `yaml:"event_type"`
	Timeout   time.Duration `yaml:"timeout"`
	// AllowPrivate skips the SSRF check on URL, for loopback receivers.
	AllowPrivate bool `yaml:"allow_private"`
}

// CloudEventsWebhook returns a Func that POSTs the subject's record as a
// structured CloudEvent to cfg.URL. The result is the event id.
func CloudEventsWebhook(cfg WebhookConfig) (Func, error) {
	if cfg.EventType == "" {
		cfg.EventType = EventType
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if !cfg.AllowPrivate {
		if err := horosafe.ValidateURL(cfg.URL); err != nil {
			return nil, fmt.Errorf("trigger %s: %w", cfg.Name, err)
		}
	}
	client, err := cloudevents.NewClientHTTP(
		cehttp.WithTarget(cfg.URL),
		cehttp.WithClient(http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: client: %w", cfg.Name, err)
	}

	return func(ctx context.Context, s Subject) (any, error) {
		e := cloudevents.NewEvent()
		e.SetID(uuid.NewString())
		e.SetSource(EventSource)
		e.SetType(cfg.EventType)
		e.SetSubject(s.FileID)
		e.SetTime(time.Now().UTC())
		if err := e.SetData(cloudevents.ApplicationJSON, s.Record); err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}

		res := client.Send(ctx, e)
		var httpRes *cehttp.Result
		if cloudevents.ResultAs(res, &httpRes) && (httpRes.StatusCode < 200 || httpRes.StatusCode >= 300) {
			return nil, fmt.Errorf("webhook %s: status %d", cfg.Name, httpRes.StatusCode)
		}
		if !cloudevents.IsACK(res) {
			return nil, fmt.Errorf("webhook %s: %w", cfg.Name, res)
		}
		return e.ID(), nil
	}, nil
}
