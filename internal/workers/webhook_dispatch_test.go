package workers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pushgate/webhooks/internal/datatypes"
	apperrors "github.com/pushgate/webhooks/internal/errors"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/queue"
	"github.com/pushgate/webhooks/internal/signature"
	"github.com/pushgate/webhooks/internal/transport"
)

type mockAppManager struct {
	app *models.App
	err error
}

func (m *mockAppManager) FindByKey(_ context.Context, _ string) (*models.App, error) {
	return m.app, m.err
}

func (m *mockAppManager) FindByID(_ context.Context, _ string) (*models.App, error) {
	return m.app, m.err
}

type mockTransport struct {
	mu         sync.Mutex
	deliveries []transport.Delivery
	fail       map[string]bool
}

func (m *mockTransport) Deliver(_ context.Context, d transport.Delivery) transport.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deliveries = append(m.deliveries, d)

	if m.fail[d.Target.String()] {
		return transport.Outcome{Status: transport.StatusFailed, Target: d.Target, Err: errors.New("boom")}
	}

	return transport.Outcome{Status: transport.StatusDelivered, Target: d.Target, StatusCode: http.StatusOK}
}

func (m *mockTransport) targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.deliveries))
	for _, d := range m.deliveries {
		out = append(out, d.Target.String())
	}

	sort.Strings(out)

	return out
}

type mockOutcomes struct {
	mu       sync.Mutex
	outcomes []transport.Outcome
}

func (m *mockOutcomes) Handle(_ context.Context, _ string, o transport.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomes = append(m.outcomes, o)
}

func newJob(t *testing.T, app *models.App, events ...models.Event) *models.DeliveryJob {
	t.Helper()

	body, err := json.Marshal(models.NewPayload(time.UnixMilli(1), events))
	if err != nil {
		t.Fatal(err)
	}

	return &models.DeliveryJob{AppKey: app.Key, AppID: app.ID, Payload: body, Signature: signature.Sign(body, app.Secret)}
}

func filteringApp() *models.App {
	return &models.App{
		ID: "1", Key: "key", Secret: "secret",
		Webhooks: []models.WebhookConfig{
			{URL: "https://a.example/all-client", EventTypes: []string{"client_event"}},
			{
				URL:        "https://b.example/private-client",
				EventTypes: []string{"client_event"},
				Filter:     &models.WebhookFilter{ChannelNameStartsWith: "private-"},
			},
			{URL: "https://c.example/occupied", EventTypes: []string{"channel_occupied"}},
			{LambdaFunction: "notify", EventTypes: []string{"client_event"}, Headers: map[string]string{"X-Pusher-Signature": "forged"}},
		},
	}
}

func TestWebhookDispatchWorker_Work(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when app not found", func(t *testing.T) {
		apps := &mockAppManager{err: apperrors.NewNotFoundError("app", "app not found")}
		tr := &mockTransport{}
		worker := NewWebhookDispatchWorker(apps, tr, &mockOutcomes{}, DispatchConfig{})

		err := worker.Work(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{AppKey: "missing"})
		if err != nil {
			t.Errorf("Work() error = %v, want nil (job dropped)", err)
		}

		if len(tr.targets()) != 0 {
			t.Errorf("delivered %v, want nothing", tr.targets())
		}
	})

	t.Run("returns registry error", func(t *testing.T) {
		boom := errors.New("db down")
		worker := NewWebhookDispatchWorker(&mockAppManager{err: boom}, &mockTransport{}, &mockOutcomes{}, DispatchConfig{})

		err := worker.Work(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{AppKey: "k"})
		if !errors.Is(err, boom) {
			t.Errorf("Work() error = %v, want %v", err, boom)
		}
	})

	t.Run("filters by event type and channel prefix", func(t *testing.T) {
		app := filteringApp()
		tr := &mockTransport{}
		outcomes := &mockOutcomes{}
		worker := NewWebhookDispatchWorker(&mockAppManager{app: app}, tr, outcomes, DispatchConfig{ProcessID: "p1"})

		job := newJob(t, app, models.NewClientEvent("public-x", "greeting", nil, "", ""))
		if err := worker.Work(ctx, datatypes.ClientEventQueue, job); err != nil {
			t.Fatalf("Work() error = %v", err)
		}

		want := []string{"https://a.example/all-client", "lambda:us-east-1:notify"}
		if got := tr.targets(); !equal(got, want) {
			t.Errorf("targets = %v, want %v", got, want)
		}

		if len(outcomes.outcomes) != 2 {
			t.Errorf("outcomes = %d, want 2", len(outcomes.outcomes))
		}
	})

	t.Run("prefix match delivers", func(t *testing.T) {
		app := filteringApp()
		tr := &mockTransport{}
		worker := NewWebhookDispatchWorker(&mockAppManager{app: app}, tr, &mockOutcomes{}, DispatchConfig{})

		job := newJob(t, app, models.NewClientEvent("private-x", "greeting", nil, "", ""))
		if err := worker.Work(ctx, datatypes.ClientEventQueue, job); err != nil {
			t.Fatalf("Work() error = %v", err)
		}

		want := []string{"https://a.example/all-client", "https://b.example/private-client", "lambda:us-east-1:notify"}
		if got := tr.targets(); !equal(got, want) {
			t.Errorf("targets = %v, want %v", got, want)
		}
	})

	t.Run("batching skips filters", func(t *testing.T) {
		app := filteringApp()
		tr := &mockTransport{}
		worker := NewWebhookDispatchWorker(&mockAppManager{app: app}, tr, &mockOutcomes{}, DispatchConfig{BatchingEnabled: true})

		job := newJob(t, app, models.NewClientEvent("public-x", "greeting", nil, "", ""))
		if err := worker.Work(ctx, datatypes.ClientEventQueue, job); err != nil {
			t.Fatalf("Work() error = %v", err)
		}

		if got := len(tr.targets()); got != len(app.Webhooks) {
			t.Errorf("delivered to %d webhooks, want %d", got, len(app.Webhooks))
		}
	})

	t.Run("one failing webhook does not affect the others", func(t *testing.T) {
		app := filteringApp()
		tr := &mockTransport{fail: map[string]bool{"https://a.example/all-client": true}}
		outcomes := &mockOutcomes{}
		worker := NewWebhookDispatchWorker(&mockAppManager{app: app}, tr, outcomes, DispatchConfig{})

		job := newJob(t, app, models.NewClientEvent("private-x", "greeting", nil, "", ""))
		if err := worker.Work(ctx, datatypes.ClientEventQueue, job); err != nil {
			t.Fatalf("Work() error = %v, want nil", err)
		}

		delivered := 0
		for _, o := range outcomes.outcomes {
			if o.Delivered() {
				delivered++
			}
		}

		if delivered != 2 || len(outcomes.outcomes) != 3 {
			t.Errorf("delivered %d of %d, want 2 of 3", delivered, len(outcomes.outcomes))
		}
	})

	t.Run("signed payload and protocol headers reach the transport", func(t *testing.T) {
		app := filteringApp()
		tr := &mockTransport{}
		worker := NewWebhookDispatchWorker(&mockAppManager{app: app}, tr, &mockOutcomes{}, DispatchConfig{ProcessID: "p1"})

		job := newJob(t, app, models.NewClientEvent("public-x", "greeting", nil, "", ""))
		if err := worker.Work(ctx, datatypes.ClientEventQueue, job); err != nil {
			t.Fatalf("Work() error = %v", err)
		}

		for _, d := range tr.deliveries {
			if string(d.Payload) != string(job.Payload) {
				t.Errorf("payload changed in transit")
			}

			if d.Headers.Get("X-Pusher-Signature") != job.Signature {
				t.Errorf("signature header = %q, want %q", d.Headers.Get("X-Pusher-Signature"), job.Signature)
			}

			if !signature.Verify(d.Payload, app.Secret, d.Headers.Get("X-Pusher-Signature")) {
				t.Errorf("signature does not verify")
			}

			if d.Headers.Get("User-Agent") != "PushgateWebhooksClient/1.0 (Process: p1)" {
				t.Errorf("User-Agent = %q", d.Headers.Get("User-Agent"))
			}
		}
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		app := filteringApp()
		tr := &mockTransport{}
		worker := NewWebhookDispatchWorker(&mockAppManager{app: app}, tr, &mockOutcomes{}, DispatchConfig{})

		job := &models.DeliveryJob{AppKey: "key", Payload: json.RawMessage(`{"time_ms":1,"events":[]}`)}
		if err := worker.Work(ctx, datatypes.ClientEventQueue, job); err != nil {
			t.Errorf("Work() error = %v, want nil", err)
		}

		if len(tr.targets()) != 0 {
			t.Errorf("delivered %v, want nothing", tr.targets())
		}
	})
}

func TestWebhookDispatchWorker_Register(t *testing.T) {
	app := filteringApp()
	tr := &mockTransport{}
	worker := NewWebhookDispatchWorker(&mockAppManager{app: app}, tr, &mockOutcomes{}, DispatchConfig{})

	q := queue.NewSyncQueue(1, 4, nil)
	worker.Register(q)

	ctx := context.Background()
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(ctx, datatypes.ChannelOccupiedQueue, newJob(t, app, models.NewChannelOccupied("ch"))); err != nil {
		t.Fatal(err)
	}

	if err := q.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{"https://c.example/occupied"}
	if got := tr.targets(); !equal(got, want) {
		t.Errorf("targets = %v, want %v", got, want)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
