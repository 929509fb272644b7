// Package notify pushes event log entries to configured HTTP endpoints.
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
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/telemetry"
)

const (
	DefaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
	// DefaultGapGrace bounds how long a hook waits on a missing event id.
	DefaultGapGrace = 5 * time.Second
)

// EventSource is the slice of the event log a dispatcher reads.
type EventSource interface {
	EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Dispatcher keeps one cursor per hook. A hook starts at the log head, so only events
// appended after startup are delivered. A failed delivery stops that hook's batch and is
// retried on the next tick.
//
// Ids are allocated before commit, so on Postgres a lower id can become visible after a
// higher one. When the next event does not follow the cursor, the hook waits up to
// GapGrace for the missing ids before skipping past them (a rolled back transaction leaves
// a permanent gap).
type Dispatcher struct {
	Source   EventSource
	Hooks    []config.WebhookConfig
	Log      logrus.FieldLogger
	Client   *http.Client
	GapGrace time.Duration
	Now      func() time.Time

	mu      sync.Mutex
	cursors map[int]int64
	gaps    map[int]gap
}

type gap struct {
	after int64
	since time.Time
}

func New(source EventSource, hooks []config.WebhookConfig, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		Source:  source,
		Hooks:   hooks,
		Log:     logger.WithField("component", "notify"),
		Client:   &http.Client{Timeout: defaultTimeout},
		GapGrace: DefaultGapGrace,
		Now:      time.Now,
		cursors:  make(map[int]int64),
		gaps:     make(map[int]gap),
	}
}

// Run dispatches every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if len(d.Hooks) == 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs one delivery pass over every enabled hook.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatch(ctx, i, hook)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, idx int, hook config.WebhookConfig) {
	logger := d.Log.WithField("url", hook.URL)
	cursor, err := d.cursorFor(ctx, idx)
	if err != nil {
		logger.WithError(err).Warn("init cursor failed")
		return
	}
	events, err := d.Source.EventsAfter(ctx, cursor, defaultBatch)
	if err != nil {
		logger.WithError(err).Warn("fetch events failed")
		return
	}
	filter := newEventFilter(hook.Events)
	prev := cursor
	for _, evt := range events {
		if evt.ID > prev+1 && d.holdGap(idx, prev) {
			logger.WithFields(logrus.Fields{"after": prev, "next": evt.ID}).Debug("waiting on event id gap")
			return
		}
		if filter.match(evt.Type) {
			if err := d.post(ctx, hook, evt); err != nil {
				telemetry.NotifyFailures.Inc()
				logger.WithError(err).WithField("event_id", evt.ID).Warn("delivery failed")
				return
			}
		}
		d.setCursor(idx, evt.ID)
		prev = evt.ID
	}
}

// holdGap reports whether the hook should keep waiting for ids after the cursor. The
// first sighting of a gap starts its clock.
func (d *Dispatcher) holdGap(idx int, after int64) bool {
	if d.GapGrace <= 0 {
		return false
	}
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gaps == nil {
		d.gaps = make(map[int]gap)
	}
	g, ok := d.gaps[idx]
	if !ok || g.after != after {
		d.gaps[idx] = gap{after: after, since: now}
		return true
	}
	return now.Sub(g.since) < d.GapGrace
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur, nil
	}
	cur, err := d.Source.LatestEventID(ctx)
	if err != nil {
		return 0, err
	}
	d.cursors[idx] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	delete(d.gaps, idx)
	d.mu.Unlock()
}

// Delivery is the JSON body posted for each event.
type Delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(Delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gigline-Event", evt.Type)
	req.Header.Set("X-Gigline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Gigline-Signature", "sha256="+Sign(hook.Secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

// newEventFilter matches exact types, or a family when an entry ends in ".*".
func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	return eventFilter{all: len(set) == 0, set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.set[evt[:i]+".*"]
		return ok
	}
	return false
}
