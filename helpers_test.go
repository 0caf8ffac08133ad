package playermail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/playermail/item"
	"github.com/rbaliyan/playermail/store"
	"github.com/rbaliyan/playermail/store/memory"
)

// fakeHost stands in for the game server: presence, history, command
// dispatch, inventories and email.
type fakeHost struct {
	mu       sync.Mutex
	online   map[string]Player // by name
	known    map[string]Player // by name
	told     map[string][]string
	commands []string
	given    map[string][]item.Stack
	emails   []Email

	failEmail  bool
	remembered []Player
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		online: make(map[string]Player),
		known:  make(map[string]Player),
		told:   make(map[string][]string),
		given:  make(map[string][]item.Stack),
	}
}

// join marks p online and known.
func (h *fakeHost) join(p Player) Player {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.online[p.Name] = p
	h.known[p.Name] = p
	return p
}

// seen records p as known but offline.
func (h *fakeHost) seen(p Player) Player {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.known[p.Name] = p
	return p
}

func (h *fakeHost) Online(name string) (Player, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.online[name]
	return p, ok
}

func (h *fakeHost) IsOnline(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.online {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (h *fakeHost) Tell(id, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.told[id] = append(h.told[id], msg)
	return nil
}

func (h *fakeHost) OnlinePlayers() []Player {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Player
	for _, p := range h.online {
		out = append(out, p)
	}
	return out
}

func (h *fakeHost) Lookup(_ context.Context, name string) (Player, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.known[name]
	if !ok {
		return Player{}, ErrPlayerNotFound
	}
	return p, nil
}

func (h *fakeHost) All(context.Context) ([]Player, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Player
	for _, p := range h.known {
		out = append(out, p)
	}
	return out, nil
}

func (h *fakeHost) Remember(_ context.Context, p Player) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remembered = append(h.remembered, p)
	h.known[p.Name] = p
	return nil
}

func (h *fakeHost) RunAsPlayer(id, cmd string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, id+":"+cmd)
	return nil
}

func (h *fakeHost) RunAsConsole(cmd string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "console:"+cmd)
	return nil
}

func (h *fakeHost) Give(id string, stacks []item.Stack) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.given[id] = append(h.given[id], stacks...)
	return nil
}

func (h *fakeHost) SendEmail(_ context.Context, e Email) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failEmail {
		return errors.New("smtp down")
	}
	h.emails = append(h.emails, e)
	return nil
}

func (h *fakeHost) toldTo(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.told[id]...)
}

func (h *fakeHost) ranCommands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

func (h *fakeHost) givenTo(id string) []item.Stack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]item.Stack(nil), h.given[id]...)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	steve = Player{ID: "uuid-steve", Name: "Steve", Email: "steve@example.com"}
	alex  = Player{ID: "uuid-alex", Name: "Alex", Email: "alex@example.com"}
	herob = Player{ID: "uuid-herobrine", Name: "Herobrine"}
)

type testEnv struct {
	svc   Service
	host  *fakeHost
	store *memory.Store
	clock *testClock
}

// newSeededHost returns a host where Steve and Alex are online and
// Herobrine is known but offline.
func newSeededHost() *fakeHost {
	host := newFakeHost()
	host.join(steve)
	host.join(alex)
	host.seen(herob)
	return host
}

// setupTestService connects a service over a memory store and a seeded host.
func setupTestService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return setupWithHost(t, newSeededHost(), opts...)
}

func setupWithHost(t *testing.T, host *fakeHost, opts ...Option) *testEnv {
	t.Helper()
	clock := newTestClock()
	st := memory.New()
	base := []Option{
		WithStore(st),
		WithDirectory(host),
		WithDispatcher(host),
		WithInventory(host),
		WithClock(clock.Now),
	}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return &testEnv{svc: svc, host: host, store: st, clock: clock}
}

// send sends from one player to another and advances the clock past the cooldown.
func (e *testEnv) send(t *testing.T, from, to Player, req SendRequest) *store.Mail {
	t.Helper()
	req.SenderID = from.ID
	req.SenderName = from.Name
	req.ReceiverName = to.Name
	m, err := e.svc.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	e.clock.Advance(DefaultCooldown + time.Second)
	return m
}

func stacks(materials ...string) []*item.Stack {
	out := make([]*item.Stack, len(materials))
	for i, m := range materials {
		out[i] = &item.Stack{Material: m, Amount: 1}
	}
	return out
}

// failingStore fails Update or Delete on demand.
type failingStore struct {
	*memory.Store
	mu         sync.Mutex
	failUpdate bool
	failDelete bool
}

var errBoom = errors.New("boom")

func (s *failingStore) set(update, del bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdate = update
	s.failDelete = del
}

func (s *failingStore) Update(ctx context.Context, m *store.Mail) error {
	s.mu.Lock()
	fail := s.failUpdate
	s.mu.Unlock()
	if fail {
		return errBoom
	}
	return s.Store.Update(ctx, m)
}

func (s *failingStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	fail := s.failDelete
	s.mu.Unlock()
	if fail {
		return errBoom
	}
	return s.Store.Delete(ctx, id)
}

// recordingHook captures every delivered mail.
type recordingHook struct {
	mu     sync.Mutex
	reject error
	before []*store.Mail
	after  []*store.Mail
}

func (h *recordingHook) Name() string { return "recording" }
func (h *recordingHook) Init(context.Context) error { return nil }
func (h *recordingHook) Close(context.Context) error { return nil }

func (h *recordingHook) BeforeSend(_ context.Context, m *store.Mail) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reject != nil {
		return h.reject
	}
	h.before = append(h.before, m.Clone())
	return nil
}

func (h *recordingHook) AfterSend(_ context.Context, m *store.Mail) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = append(h.after, m.Clone())
	return nil
}

func (h *recordingHook) delivered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.after)
}
