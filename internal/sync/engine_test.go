package sync

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/cache"
	"github.com/opencoach/chatsync/internal/clock"
	"github.com/opencoach/chatsync/internal/model"
	"github.com/opencoach/chatsync/internal/readstate"
	"github.com/opencoach/chatsync/internal/responder"
	"github.com/opencoach/chatsync/internal/rest"
	"github.com/opencoach/chatsync/internal/status"
	"github.com/opencoach/chatsync/internal/store"
	"github.com/opencoach/chatsync/internal/typing"
)

const unreachableURL = "http://127.0.0.1:1"

var localUser = model.Participant{Email: "me@club.test", DisplayName: "Me"}

type fakeClient struct {
	mu      stdsync.Mutex
	sent    []model.Message
	reads   []string
	sendErr error
}

func (f *fakeClient) Connect(context.Context) error      { return nil }
func (f *fakeClient) Disconnect() error                  { return nil }
func (f *fakeClient) Join(context.Context, string) error { return nil }

func (f *fakeClient) SendMessage(_ context.Context, m model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeClient) Typing(context.Context, string, string) error { return nil }
func (f *fakeClient) StopTyping(context.Context, string) error     { return nil }

func (f *fakeClient) MarkAsRead(_ context.Context, conversationID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, conversationID)
	return nil
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeClient) readReceipts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reads...)
}

type memCache struct {
	mu stdsync.Mutex
	st *cache.State
}

func (c *memCache) Load() (*cache.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return &cache.State{}, nil
	}
	cp := *c.st
	return &cp, nil
}

func (c *memCache) Save(st *cache.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *st
	c.st = &cp
	return nil
}

func (c *memCache) Close() error { return nil }

// backend is a minimal REST server for the endpoints the engine touches.
// archiveGate, when set, stalls archive requests until it is closed.
type backend struct {
	mu          stdsync.Mutex
	convs       []model.Conversation
	msgs        map[string][]model.Message
	posted      []model.Message
	archiveGate chan struct{}
	srv         *httptest.Server
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{msgs: make(map[string][]model.Message)}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/archive") {
		b.mu.Lock()
		gate := b.archiveGate
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/conversations":
		_ = json.NewEncoder(w).Encode(b.convs)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/messages/"):
		id := strings.TrimPrefix(r.URL.Path, "/messages/")
		_ = json.NewEncoder(w).Encode(b.msgs[id])
	case r.Method == http.MethodPost && r.URL.Path == "/messages":
		var m model.Message
		_ = json.NewDecoder(r.Body).Decode(&m)
		b.posted = append(b.posted, m)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/archive"):
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (b *backend) addConversation(c model.Conversation, history ...model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convs = append(b.convs, c)
	b.msgs[c.ID] = append(b.msgs[c.ID], history...)
}

func (b *backend) postedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.posted)
}

type fixture struct {
	eng    *Engine
	bus    *bus.Bus
	msgs   *store.MessageStore
	convs  *store.ConversationStore
	client *fakeClient
	cache  *memCache
	mach   *status.Machine
	clk    *clock.Fake
	resp   *responder.Responder
}

func newFixture(t *testing.T, restURL string) *fixture {
	t.Helper()
	b := bus.New()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	msgs := store.NewMessageStore()
	convs := store.NewConversationStore(msgs, localUser.Email)
	client := &fakeClient{}
	resp := responder.New(b, clk, localUser.Email, responder.DefaultPersonas(), responder.Timing{
		TypingDelay: 600 * time.Millisecond,
		ReplyMin:    900 * time.Millisecond,
	}, rand.New(rand.NewSource(1)), zap.NewNop())
	f := &fixture{
		bus:    b,
		msgs:   msgs,
		convs:  convs,
		client: client,
		cache:  &memCache{},
		mach:   status.NewMachine(b),
		clk:    clk,
		resp:   resp,
	}
	f.eng = NewEngine(Deps{
		Messages:      msgs,
		Conversations: convs,
		Cache:         f.cache,
		Rest:          rest.New(restURL),
		Transport:     client,
		Responder:     resp,
		ReadState:     readstate.NewManager(msgs, convs, client, localUser.Email, zap.NewNop()),
		Machine:       f.mach,
		Bus:           b,
		Clock:         clk,
		Logger:        zap.NewNop(),
		LocalUser:     localUser,
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.eng.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.eng.Stop()
	})
}

// waitIdle returns after every intent queued before the call has run.
func (e *Engine) waitIdle() {
	done := make(chan struct{})
	e.intents <- func(context.Context) { close(done) }
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func realConversation(id, email string) model.Conversation {
	return model.Conversation{
		ID:           id,
		Participants: [2]model.Participant{localUser, {Email: email, DisplayName: "Coach"}},
	}
}

func TestBootstrapOfflineSeedsPersonas(t *testing.T) {
	f := newFixture(t, unreachableURL)

	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if got := f.mach.Current(); got != status.Offline {
		t.Fatalf("expected OFFLINE after failed sync, got %s", got)
	}

	personas := f.resp.Personas()
	convs := f.convs.List(store.FilterAll)
	if len(convs) != len(personas) {
		t.Fatalf("expected %d persona conversations, got %d", len(personas), len(convs))
	}
	byEmail := make(map[string]model.Conversation)
	for _, c := range convs {
		if !c.Synthetic {
			t.Fatalf("seeded conversation %s must be synthetic", c.ID)
		}
		if c.UnreadCount != 1 {
			t.Fatalf("seeded conversation %s: unread = %d, want 1", c.ID, c.UnreadCount)
		}
		byEmail[c.Counterpart(localUser.Email).Email] = c
	}
	for _, p := range personas {
		c, ok := byEmail[p.Participant.Email]
		if !ok {
			t.Fatalf("no conversation for persona %s", p.Participant.Email)
		}
		if c.LastMessagePreview != p.FollowUp {
			t.Fatalf("preview = %q, want the follow-up %q", c.LastMessagePreview, p.FollowUp)
		}
	}
}

func TestBootstrapFromBackend(t *testing.T) {
	be := newBackend(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	be.addConversation(realConversation("c1", "coach@club.test"),
		model.Message{ID: "h1", ConversationID: "c1", Sender: localUser.Email, Receiver: "coach@club.test", Content: "morning", Timestamp: base, Read: true},
		model.Message{ID: "h2", ConversationID: "c1", Sender: "coach@club.test", Receiver: localUser.Email, Content: "session at 6?", Timestamp: base.Add(time.Minute)},
	)
	f := newFixture(t, be.srv.URL)

	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if got := f.mach.Current(); got != status.Syncing {
		t.Fatalf("expected SYNCING until the transport is live, got %s", got)
	}
	convs := f.convs.List(store.FilterAll)
	if len(convs) != 1 {
		t.Fatalf("expected 1 backend conversation, no personas, got %d", len(convs))
	}
	c := convs[0]
	if c.Synthetic {
		t.Fatal("backend conversation must not be synthetic")
	}
	if c.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", c.UnreadCount)
	}
	if got := len(f.msgs.ListByConversation("c1")); got != 2 {
		t.Fatalf("history = %d messages, want 2", got)
	}
}

func TestBootstrapFromCachePreservesOrder(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, unreachableURL)
	// Two messages with identical timestamps; the cached sequence decides.
	f.cache.st = &cache.State{
		Conversations: []model.Conversation{realConversation("c1", "coach@club.test")},
		Messages: []model.Message{
			{ID: "m1", ConversationID: "c1", Sender: "coach@club.test", Receiver: localUser.Email, Content: "first", Timestamp: base, Seq: 1},
			{ID: "m2", ConversationID: "c1", Sender: "coach@club.test", Receiver: localUser.Email, Content: "second", Timestamp: base, Seq: 2},
		},
		ActiveConversationID: "c1",
	}

	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if got := f.mach.Current(); got != status.Offline {
		t.Fatalf("expected OFFLINE, got %s", got)
	}
	if got := f.convs.Len(); got != 1 {
		t.Fatalf("cache had a conversation, personas must not be seeded; got %d", got)
	}
	list := f.msgs.ListByConversation("c1")
	if len(list) != 2 || list[0].ID != "m1" || list[1].ID != "m2" {
		t.Fatalf("restored order wrong: %+v", list)
	}
	if got := f.eng.ActiveConversation(); got != "c1" {
		t.Fatalf("active conversation = %q, want c1", got)
	}
}

func TestBootstrapFallsBackToMostRecentConversation(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, unreachableURL)
	// Nothing was open when the snapshot was taken.
	f.cache.st = &cache.State{
		Conversations: []model.Conversation{
			realConversation("c-old", "coach@club.test"),
			realConversation("c-new", "physio@club.test"),
		},
		Messages: []model.Message{
			{ID: "m1", ConversationID: "c-old", Sender: "coach@club.test", Receiver: localUser.Email, Content: "old", Timestamp: base, Read: true},
			{ID: "m2", ConversationID: "c-new", Sender: "physio@club.test", Receiver: localUser.Email, Content: "new", Timestamp: base.Add(time.Hour), Read: true},
		},
		ActiveConversationID: "",
	}

	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if got := f.eng.ActiveConversation(); got != "c-new" {
		t.Fatalf("active conversation = %q, want the most recent c-new", got)
	}
}

func TestOptimisticSendCommitsBeforeTransport(t *testing.T) {
	be := newBackend(t)
	be.addConversation(realConversation("c1", "coach@club.test"))
	f := newFixture(t, be.srv.URL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	f.eng.SendMessage("c1", "on my way")
	f.eng.waitIdle()

	list := f.msgs.ListByConversation("c1")
	if len(list) != 1 {
		t.Fatalf("expected the message in the store, got %d", len(list))
	}
	m := list[0]
	if m.Sender != localUser.Email || m.Receiver != "coach@club.test" {
		t.Fatalf("wrong direction: %+v", m)
	}
	if !m.Read {
		t.Fatal("own messages start read")
	}
	if m.ID == "" {
		t.Fatal("message must carry a generated id")
	}
	waitFor(t, "transport delivery", func() bool {
		return f.client.sentCount() == 1
	})
	c, _ := f.convs.Get("c1")
	if c.LastMessagePreview != "on my way" || c.UnreadCount != 0 {
		t.Fatalf("summary not updated: %+v", c)
	}
}

func TestSendFallsBackToRest(t *testing.T) {
	be := newBackend(t)
	be.addConversation(realConversation("c1", "coach@club.test"))
	f := newFixture(t, be.srv.URL)
	f.client.sendErr = context.DeadlineExceeded
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	f.eng.SendMessage("c1", "still there?")
	f.eng.waitIdle()

	if got := len(f.msgs.ListByConversation("c1")); got != 1 {
		t.Fatalf("message must stay committed locally, got %d", got)
	}
	waitFor(t, "rest fallback post", func() bool {
		return be.postedCount() == 1
	})
}

func TestPersonaReplyArrivesThroughTheBus(t *testing.T) {
	f := newFixture(t, unreachableURL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	// A live coordinator consumes the persona's typing signals the same way
	// it consumes the transport's.
	coord := typing.NewCoordinator(f.bus, f.clk, 2*time.Second, nil)
	coord.Start(context.Background())
	t.Cleanup(coord.Stop)

	sprint := f.resp.Personas()[0]
	convID := sprint.ConversationID()

	f.eng.SendMessage(convID, "hello")
	f.eng.waitIdle()
	if got := len(f.msgs.ListByConversation(convID)); got != 3 {
		t.Fatalf("expected 2 seeded + 1 sent, got %d", got)
	}
	if f.client.sentCount() != 0 {
		t.Fatal("synthetic sends must not hit the transport")
	}

	f.clk.Advance(600 * time.Millisecond)
	waitFor(t, "typing indicator", func() bool {
		return coord.IsTyping(convID, sprint.Participant.Email)
	})
	if got := len(f.msgs.ListByConversation(convID)); got != 3 {
		t.Fatalf("typing must be visible before the reply lands, got %d messages", got)
	}

	f.clk.Advance(300 * time.Millisecond)
	waitFor(t, "persona reply", func() bool {
		return len(f.msgs.ListByConversation(convID)) == 4
	})
	waitFor(t, "typing cleared", func() bool {
		return !coord.IsTyping(convID, sprint.Participant.Email)
	})

	list := f.msgs.ListByConversation(convID)
	reply := list[3]
	if reply.Sender != sprint.Participant.Email || reply.Receiver != localUser.Email {
		t.Fatalf("reply direction wrong: %+v", reply)
	}
	if reply.Read {
		t.Fatal("reply to a closed conversation must be unread")
	}
	waitFor(t, "unread recount", func() bool {
		c, _ := f.convs.Get(convID)
		return c.UnreadCount == 2 // seeded follow-up + the reply
	})
}

func TestOpenConversationMarksReadAndSendsReceipt(t *testing.T) {
	be := newBackend(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	be.addConversation(realConversation("c1", "coach@club.test"),
		model.Message{ID: "h1", ConversationID: "c1", Sender: "coach@club.test", Receiver: localUser.Email, Content: "ping", Timestamp: base},
	)
	f := newFixture(t, be.srv.URL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	f.eng.OpenConversation("c1")
	f.eng.waitIdle()

	c, _ := f.convs.Get("c1")
	if c.UnreadCount != 0 {
		t.Fatalf("unread = %d after opening, want 0", c.UnreadCount)
	}
	if got := f.client.readReceipts(); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("read receipts = %v, want [c1]", got)
	}
}

func TestActiveConversationReadsAtIngest(t *testing.T) {
	be := newBackend(t)
	be.addConversation(realConversation("c1", "coach@club.test"))
	f := newFixture(t, be.srv.URL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)
	f.eng.OpenConversation("c1")
	f.eng.waitIdle()

	f.bus.Publish(bus.Event{Kind: bus.RemoteMessage, Payload: &model.Message{
		ID: "r1", ConversationID: "c1", Sender: "coach@club.test", Receiver: localUser.Email,
		Content: "you there?", Timestamp: f.clk.Now(),
	}})
	waitFor(t, "ingest", func() bool {
		return len(f.msgs.ListByConversation("c1")) == 1
	})

	c, _ := f.convs.Get("c1")
	if c.UnreadCount != 0 {
		t.Fatalf("messages arriving into the open conversation must land read, unread = %d", c.UnreadCount)
	}
}

func TestInboundToClosedConversationIncrementsUnread(t *testing.T) {
	be := newBackend(t)
	be.addConversation(realConversation("c1", "coach@club.test"))
	f := newFixture(t, be.srv.URL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	f.bus.Publish(bus.Event{Kind: bus.RemoteMessage, Payload: &model.Message{
		ID: "r1", ConversationID: "c1", Sender: "coach@club.test", Receiver: localUser.Email,
		Content: "you there?", Timestamp: f.clk.Now(),
	}})
	waitFor(t, "unread increment", func() bool {
		c, _ := f.convs.Get("c1")
		return c.UnreadCount == 1
	})
	if got := f.client.readReceipts(); len(got) != 0 {
		t.Fatalf("no receipt expected for a closed conversation, got %v", got)
	}
}

func TestInboundUnknownConversationIsCreated(t *testing.T) {
	f := newFixture(t, unreachableURL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	f.bus.Publish(bus.Event{Kind: bus.RemoteMessage, Payload: &model.Message{
		ID: "r1", ConversationID: "c-new", Sender: "newcoach@club.test", Receiver: localUser.Email,
		Content: "welcome aboard", Timestamp: f.clk.Now(),
	}})
	waitFor(t, "conversation creation", func() bool {
		_, ok := f.convs.Get("c-new")
		return ok
	})
	c, _ := f.convs.Get("c-new")
	if c.Counterpart(localUser.Email).Email != "newcoach@club.test" {
		t.Fatalf("counterpart wrong: %+v", c)
	}
	if c.Synthetic {
		t.Fatal("unknown real counterpart must not be synthetic")
	}
}

func TestForeignMessageDropped(t *testing.T) {
	f := newFixture(t, unreachableURL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)
	before := f.msgs.Len()

	f.bus.Publish(bus.Event{Kind: bus.RemoteMessage, Payload: &model.Message{
		ID: "x1", ConversationID: "c-x", Sender: "a@club.test", Receiver: "b@club.test",
		Content: "not for us", Timestamp: f.clk.Now(),
	}})
	f.eng.waitIdle()

	if got := f.msgs.Len(); got != before {
		t.Fatalf("foreign message must be dropped, store grew %d -> %d", before, got)
	}
}

func TestDuplicateInboundIsIdempotent(t *testing.T) {
	be := newBackend(t)
	be.addConversation(realConversation("c1", "coach@club.test"))
	f := newFixture(t, be.srv.URL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	m := &model.Message{ID: "r1", ConversationID: "c1", Sender: "coach@club.test",
		Receiver: localUser.Email, Content: "once", Timestamp: f.clk.Now()}
	f.bus.Publish(bus.Event{Kind: bus.RemoteMessage, Payload: m})
	f.bus.Publish(bus.Event{Kind: bus.RemoteMessage, Payload: m})
	f.eng.waitIdle()

	waitFor(t, "single copy", func() bool {
		return len(f.msgs.ListByConversation("c1")) == 1
	})
	c, _ := f.convs.Get("c1")
	if c.UnreadCount != 1 {
		t.Fatalf("duplicate must not double-count unread, got %d", c.UnreadCount)
	}
}

func TestReconnectRefetchesHistory(t *testing.T) {
	be := newBackend(t)
	be.addConversation(realConversation("c1", "coach@club.test"))
	f := newFixture(t, be.srv.URL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	if err := f.mach.Transition(status.Ready); err != nil {
		t.Fatalf("to READY: %v", err)
	}
	// A message lands server-side while the transport is down.
	be.mu.Lock()
	be.msgs["c1"] = append(be.msgs["c1"], model.Message{
		ID: "missed", ConversationID: "c1", Sender: "coach@club.test",
		Receiver: localUser.Email, Content: "missed you", Timestamp: f.clk.Now(),
	})
	be.mu.Unlock()

	if err := f.mach.Transition(status.Reconnecting); err != nil {
		t.Fatalf("to RECONNECTING: %v", err)
	}
	if err := f.mach.Transition(status.Ready); err != nil {
		t.Fatalf("back to READY: %v", err)
	}

	waitFor(t, "refetched message", func() bool {
		_, ok := f.msgs.Get("missed")
		return ok
	})
}

func TestArchiveRoundTrip(t *testing.T) {
	be := newBackend(t)
	be.addConversation(realConversation("c1", "coach@club.test"))
	f := newFixture(t, be.srv.URL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	f.eng.SetArchived("c1", true)
	f.eng.waitIdle()
	if got := f.convs.List(store.FilterOpen); len(got) != 0 {
		t.Fatalf("archived conversation still listed as open: %+v", got)
	}
	f.eng.SetArchived("c1", false)
	f.eng.waitIdle()
	if got := f.convs.List(store.FilterOpen); len(got) != 1 {
		t.Fatal("unarchive did not restore the conversation")
	}
}

func TestSlowBackendMirrorDoesNotStallLoop(t *testing.T) {
	be := newBackend(t)
	be.addConversation(realConversation("c1", "coach@club.test"))
	be.addConversation(realConversation("c2", "physio@club.test"))
	f := newFixture(t, be.srv.URL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	gate := make(chan struct{})
	be.mu.Lock()
	be.archiveGate = gate
	be.mu.Unlock()
	defer close(gate)

	f.eng.SetArchived("c1", true)

	// The archive mirror is stuck server-side; the loop must keep
	// committing intents regardless.
	f.eng.SendMessage("c2", "loop still alive?")
	waitFor(t, "send while mirror is stalled", func() bool {
		return len(f.msgs.ListByConversation("c2")) == 1
	})
	c, _ := f.convs.Get("c1")
	if !c.Archived {
		t.Fatal("archive flag must commit locally before the mirror returns")
	}
}

func TestPersistAndRehydrate(t *testing.T) {
	f := newFixture(t, unreachableURL)
	if err := f.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.start(t)

	sprint := f.resp.Personas()[0]
	convID := sprint.ConversationID()
	f.eng.SendMessage(convID, "see you at the track")
	f.eng.OpenConversation(convID)
	f.eng.waitIdle()
	if err := f.eng.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Second process sharing the cache, backend still down.
	f2 := newFixture(t, unreachableURL)
	f2.eng = NewEngine(Deps{
		Messages:      f2.msgs,
		Conversations: f2.convs,
		Cache:         f.cache,
		Rest:          rest.New(unreachableURL),
		Transport:     f2.client,
		Responder:     f2.resp,
		ReadState:     readstate.NewManager(f2.msgs, f2.convs, f2.client, localUser.Email, zap.NewNop()),
		Machine:       f2.mach,
		Bus:           f2.bus,
		Clock:         f2.clk,
		Logger:        zap.NewNop(),
		LocalUser:     localUser,
	})
	if err := f2.eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	if f2.convs.Len() != f.convs.Len() {
		t.Fatalf("conversation count changed across restart: %d vs %d", f2.convs.Len(), f.convs.Len())
	}
	want := f.msgs.ListByConversation(convID)
	got := f2.msgs.ListByConversation(convID)
	if len(got) != len(want) {
		t.Fatalf("message count changed across restart: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Fatalf("order changed across restart at %d: %s vs %s", i, got[i].ID, want[i].ID)
		}
	}
	if got := f2.eng.ActiveConversation(); got != convID {
		t.Fatalf("active conversation not restored, got %q", got)
	}
}
