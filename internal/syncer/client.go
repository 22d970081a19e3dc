package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// DebugRoom is the reserved room parse-failure reports are filed under so
// the backend can tell them apart from real conversations.
const DebugRoom = "[debug]"

// Event is the wire payload for POST /v1/events.
type Event struct {
	DeviceID       string    `json:"device_id"`
	Package        string    `json:"package"`
	ChatRoom       string    `json:"chat_room"`
	SenderName     string    `json:"sender_name"`
	Text           string    `json:"text"`
	ReceivedAt     time.Time `json:"received_at"`
	NotificationID string    `json:"notification_id,omitempty"`
	Metadata       *Metadata `json:"metadata,omitempty"`
}

// Metadata carries optional notification context alongside an event.
type Metadata struct {
	Title   string `json:"title,omitempty"`
	Subtext string `json:"subtext,omitempty"`
	IsGroup *bool  `json:"is_group,omitempty"`
}

// EventResponse is the ingest API's answer. Deduped=true means the backend
// already holds this content; that is a success, not an error.
type EventResponse struct {
	Ok      bool   `json:"ok"`
	EventID string `json:"event_id"`
	Deduped bool   `json:"deduped"`
}

type heartbeatRequest struct {
	DeviceID string    `json:"device_id"`
	Ts       time.Time `json:"ts"`
}

// Outcome summarizes one Deliver call.
type Outcome struct {
	Delivered bool
	Deduped   bool
	EventID   string
	Attempts  int
}

// Options tunes the delivery behavior.
type Options struct {
	MaxAttempts int           // immediate attempts per Deliver call
	BaseDelay   time.Duration // wait between attempts is attempt_index * BaseDelay
	Timeout     time.Duration // per-attempt network timeout
}

// Client delivers events to the backend ingest API. Failures observed in the
// field are transient connectivity blips rather than server overload, so the
// backoff between immediate attempts is linear, not exponential.
type Client struct {
	httpClient *resty.Client
	deviceID   string
	pkg        string
	opts       Options
}

// NewClient builds a client for the ingest API at baseURL, authenticating
// with the shared per-device key.
func NewClient(baseURL, deviceID, deviceKey, pkg string, opts Options) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ingest baseURL cannot be empty")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	if deviceKey == "" {
		return nil, fmt.Errorf("deviceKey cannot be empty")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-Device-Key", deviceKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(opts.Timeout)

	log.Info().
		Str("baseURL", baseURL).
		Str("deviceID", deviceID).
		Int("maxAttempts", opts.MaxAttempts).
		Dur("timeout", opts.Timeout).
		Msg("Sync client configured")

	return &Client{httpClient: httpClient, deviceID: deviceID, pkg: pkg, opts: opts}, nil
}

// Deliver posts ev to /v1/events, retrying transient failures up to the
// configured immediate attempt budget. A client-side timeout counts as a
// failed attempt; if the request reached the backend anyway, the backend's
// bucket dedup absorbs the duplicate on the next try.
func (c *Client) Deliver(ctx context.Context, ev Event) (Outcome, error) {
	ev.DeviceID = c.deviceID
	if ev.Package == "" {
		ev.Package = c.pkg
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * c.opts.BaseDelay
			select {
			case <-ctx.Done():
				return Outcome{Attempts: attempt - 1}, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := c.postEvent(ctx, ev)
		if err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("chatRoom", ev.ChatRoom).
				Int("attempt", attempt).
				Int("maxAttempts", c.opts.MaxAttempts).
				Msg("Event delivery attempt failed")
			continue
		}

		if resp.Deduped {
			log.Debug().
				Str("chatRoom", ev.ChatRoom).
				Str("eventID", resp.EventID).
				Msg("Backend already held this event, accepted as duplicate")
		}
		return Outcome{Delivered: true, Deduped: resp.Deduped, EventID: resp.EventID, Attempts: attempt}, nil
	}

	return Outcome{Attempts: c.opts.MaxAttempts}, fmt.Errorf("delivery failed after %d attempts: %w", c.opts.MaxAttempts, lastErr)
}

func (c *Client) postEvent(ctx context.Context, ev Event) (*EventResponse, error) {
	var result EventResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(ev).
		SetResult(&result).
		Post("/v1/events")
	if err != nil {
		return nil, fmt.Errorf("ingest API request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ingest API error: status %s, body: %s", resp.Status(), resp.String())
	}
	if !result.Ok {
		return nil, fmt.Errorf("ingest API rejected event")
	}
	return &result, nil
}

// Heartbeat reports the device as alive. Best effort, single attempt.
func (c *Client) Heartbeat(ctx context.Context) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(heartbeatRequest{DeviceID: c.deviceID, Ts: time.Now().UTC()}).
		Post("/v1/heartbeat")
	if err != nil {
		return fmt.Errorf("heartbeat request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("heartbeat error: status %s", resp.Status())
	}
	return nil
}

// ReportParseFailure files the raw diagnostic dump of an unparseable payload
// under the debug room so nothing is lost silently. Single attempt; a lost
// report is acceptable, a blocked pipeline is not.
func (c *Client) ReportParseFailure(ctx context.Context, dump string) {
	ev := Event{
		Package:    c.pkg,
		ChatRoom:   DebugRoom,
		SenderName: c.deviceID,
		Text:       dump,
		ReceivedAt: time.Now().UTC(),
	}
	ev.DeviceID = c.deviceID
	if _, err := c.postEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("Failed to report parse failure")
	}
}
