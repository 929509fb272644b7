package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/config"
	"gigline/internal/domain"
)

type memorySource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memorySource) add(typ string) {
	m.mu.Lock()
	id := int64(len(m.events) + 1)
	m.mu.Unlock()
	m.addWithID(id, typ)
}

// addWithID commits an event with a chosen id, which may be lower than ids already visible.
func (m *memorySource) addWithID(id int64, typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, domain.Event{
		ID: id, Type: typ, EntityKind: "mission", EntityID: "m1",
		ActorID: "emp-1", TS: "2024-01-01T09:00:00Z", Payload: `{"status":"OPEN"}`,
	})
	sort.Slice(m.events, func(i, j int) bool { return m.events[i].ID < m.events[j].ID })
}

func (m *memorySource) EventsAfter(_ context.Context, cursor int64, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memorySource) LatestEventID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].ID, nil
}

type recorder struct {
	mu        sync.Mutex
	types     []string
	signature string
	body      []byte
	status    int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}
	r.types = append(r.types, req.Header.Get("X-Gigline-Event"))
	r.signature = req.Header.Get("X-Gigline-Signature")
	r.body = body
}

func TestDispatchDeliversNewEventsOnly(t *testing.T) {
	src := &memorySource{}
	src.add("mission.created")
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	d := New(src, []config.WebhookConfig{{URL: srv.URL, Secret: "s3cret"}}, logger)
	ctx := context.Background()

	d.DispatchOnce(ctx)
	assert.Empty(t, rec.types, "events before startup are not replayed")

	src.add("mission.claimed")
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)
	require.Equal(t, []string{"mission.claimed"}, rec.types)
	assert.Equal(t, "sha256="+Sign("s3cret", rec.body), rec.signature)

	var got Delivery
	require.NoError(t, json.Unmarshal(rec.body, &got))
	assert.Equal(t, int64(2), got.ID)
	assert.JSONEq(t, `{"status":"OPEN"}`, string(got.Payload))
}

func TestDispatchFiltersAndRetries(t *testing.T) {
	src := &memorySource{}
	rec := &recorder{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	d := New(src, []config.WebhookConfig{{URL: srv.URL, Events: []string{"payment.*"}}}, logger)
	ctx := context.Background()
	d.DispatchOnce(ctx)

	src.add("mission.created")
	src.add("payment.captured")
	d.DispatchOnce(ctx)
	assert.NotEmpty(t, hook.AllEntries(), "failed delivery is logged")

	rec.mu.Lock()
	rec.status = 0
	rec.mu.Unlock()
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{"payment.captured"}, rec.types)
}

func TestDispatchWaitsForLateCommit(t *testing.T) {
	src := &memorySource{}
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	d := New(src, []config.WebhookConfig{{URL: srv.URL}}, nil)
	d.Now = func() time.Time { return clock }
	ctx := context.Background()
	d.DispatchOnce(ctx)

	src.addWithID(1, "mission.created")
	src.addWithID(3, "mission.claimed")
	d.DispatchOnce(ctx)
	require.Equal(t, []string{"mission.created"}, rec.types)

	src.addWithID(2, "mission.reserved")
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{"mission.created", "mission.reserved", "mission.claimed"}, rec.types)
}

func TestDispatchSkipsGapAfterGrace(t *testing.T) {
	src := &memorySource{}
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	d := New(src, []config.WebhookConfig{{URL: srv.URL}}, nil)
	d.Now = func() time.Time { return clock }
	ctx := context.Background()
	d.DispatchOnce(ctx)

	src.addWithID(2, "payment.authorized")
	d.DispatchOnce(ctx)
	clock = clock.Add(time.Second)
	d.DispatchOnce(ctx)
	assert.Empty(t, rec.types, "gap still inside grace period")

	clock = clock.Add(DefaultGapGrace)
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{"payment.authorized"}, rec.types)
}

func TestDisabledHookIsSkipped(t *testing.T) {
	src := &memorySource{}
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()
	off := false
	d := New(src, []config.WebhookConfig{{URL: srv.URL, Enabled: &off}}, nil)
	d.DispatchOnce(context.Background())
	src.add("mission.created")
	d.DispatchOnce(context.Background())
	assert.Empty(t, rec.types)
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"mission.claimed", "payment.*", " "})
	assert.True(t, f.match("mission.claimed"))
	assert.False(t, f.match("mission.created"))
	assert.True(t, f.match("payment.refunded"))
	assert.True(t, newEventFilter(nil).match("anything"))
}
