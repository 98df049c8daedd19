package keypad

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// fakeTransport captures subscriptions and published replies.
type fakeTransport struct {
	mu         sync.Mutex
	handlers       map[string]mqtt.MessageHandler
	published      []published
	publishErr     error
	unsubscribeErr error
}

type published struct {
	topic   string
	payload []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsubscribeErr != nil {
		return f.unsubscribeErr
	}
	delete(f.handlers, topic)
	return nil
}

func (f *fakeTransport) PublishJSON(topic string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.published = append(f.published, published{topic: topic, payload: data})
	return nil
}

func (f *fakeTransport) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		t.Fatal("nothing published")
	}
	return f.published[len(f.published)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// memoryPersistence keeps the last saved snapshot.
type memoryPersistence struct {
	mu      sync.Mutex
	snap    *access.Snapshot
	saveErr error
}

func (p *memoryPersistence) Load(context.Context) (*access.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap, nil
}

func (p *memoryPersistence) Save(_ context.Context, snap *access.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.snap = snap
	return nil
}

func (p *memoryPersistence) failSaves(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveErr = err
}

// fakeEngine returns a fixed verdict and records calls.
type fakeEngine struct {
	mu      sync.Mutex
	verdict access.Verdict
	err     error
	calls   []string
}

func (e *fakeEngine) ValidateByCode(_ context.Context, code, source string) (access.Verdict, error) {
	return e.record("code:"+code, source)
}

func (e *fakeEngine) ValidateByTag(_ context.Context, tag, source string) (access.Verdict, error) {
	return e.record("tag:"+tag, source)
}

func (e *fakeEngine) record(call, source string) (access.Verdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	v := e.verdict
	v.Source = source
	return v, e.err
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// recordingObserver collects bridge metrics.
type recordingObserver struct {
	mu          sync.Mutex
	durations   []string
	rateLimited []string
	commands    map[string]int
}

func (o *recordingObserver) ObserveValidationDuration(method string, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.durations = append(o.durations, method)
}

func (o *recordingObserver) ObserveRateLimited(method string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rateLimited = append(o.rateLimited, method)
}

func (o *recordingObserver) ObserveCommand(op string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.commands == nil {
		o.commands = make(map[string]int)
	}
	o.commands[op]++
}

// fakeAccessLog is an in-memory accesslog.Repository.
type fakeAccessLog struct {
	entries []accesslog.Entry
	filters []accesslog.Filter
}

func (r *fakeAccessLog) Create(_ context.Context, e *accesslog.Entry) error {
	r.entries = append(r.entries, *e)
	return nil
}

func (r *fakeAccessLog) List(_ context.Context, f accesslog.Filter) (*accesslog.ListResult, error) {
	r.filters = append(r.filters, f)
	return &accesslog.ListResult{Entries: r.entries, Total: len(r.entries), Limit: f.Limit, Offset: f.Offset}, nil
}

func (r *fakeAccessLog) CountSince(_ context.Context, typ access.NotificationType, since time.Time) (int, error) {
	n := 0
	for _, e := range r.entries {
		if e.Type == typ && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeAccessLog) Last(_ context.Context, typ access.NotificationType) (*accesslog.Entry, error) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Type == typ {
			e := r.entries[i]
			return &e, nil
		}
	}
	return nil, accesslog.ErrNoEntries
}

func (r *fakeAccessLog) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

// fixture wires a bridge over real managers and a fake transport.
type fixture struct {
	bridge      *Bridge
	transport   *fakeTransport
	engine      *fakeEngine
	persistence *memoryPersistence
	store       *access.Store
	users       *access.UserManager
	schedules   *access.ScheduleManager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	p := &memoryPersistence{}
	store := access.NewStore(p)
	if err := store.Load(t.Context()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cipher := access.NewCipher()
	users := access.NewUserManager(store, access.NewUserValidator(access.DefaultPolicy(), cipher), cipher)
	schedules := access.NewScheduleManager(store)

	f := &fixture{
		transport:   newFakeTransport(),
		engine:      &fakeEngine{},
		persistence: p,
		store:       store,
		users:       users,
		schedules:   schedules,
	}
	b, err := New(Deps{
		Engine:    f.engine,
		Users:     users,
		Schedules: schedules,
		Store:     store,
		Transport: f.transport,
	}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.bridge = b
	return f
}

// commandReply is CommandResponse with Data left raw.
type commandReply struct {
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	Field     string          `json:"field"`
	Warning   string          `json:"warning"`
	Data      json.RawMessage `json:"data"`
}

// command sends op with payload and decodes the reply.
func (f *fixture) command(t *testing.T, op string, payload map[string]any) commandReply {
	t.Helper()
	if _, ok := payload["request_id"]; !ok {
		payload["request_id"] = "req-" + op
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := f.bridge.HandleCommand(mqtt.Topics{}.Command(op), body); err != nil {
		t.Fatalf("HandleCommand(%s) error = %v", op, err)
	}

	msg := f.transport.last(t)
	if want := (mqtt.Topics{}).Response(payload["request_id"].(string)); msg.topic != want {
		t.Fatalf("reply topic = %q, want %q", msg.topic, want)
	}
	var reply commandReply
	if err := json.Unmarshal(msg.payload, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return reply
}

func decodeData[T any](t *testing.T, r commandReply) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(r.Data, &out); err != nil {
		t.Fatalf("unmarshal data %s: %v", r.Data, err)
	}
	return out
}
