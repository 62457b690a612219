package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/health"
	"github.com/MrWong99/luna/internal/listening"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/internal/router"
	"github.com/MrWong99/luna/internal/settings"
)

type fakeListening struct {
	mu        sync.Mutex
	state     listening.State
	manualErr error
	manuals   int
}

func (f *fakeListening) State() listening.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeListening) Mute(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = listening.Muted
	return nil
}

func (f *fakeListening) Unmute(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = listening.ListeningBackground
	return nil
}

func (f *fakeListening) ToggleMute(ctx context.Context) (bool, error) {
	if f.State() == listening.Muted {
		return false, f.Unmute(ctx)
	}
	return true, f.Mute(ctx)
}

func (f *fakeListening) RequestManual(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manuals++
	return f.manualErr
}

type fakeValidator struct {
	ok   bool
	seen []router.ProviderConfig
}

func (v *fakeValidator) Validate(_ context.Context, cfg router.ProviderConfig) router.Validation {
	v.seen = append(v.seen, cfg)
	if v.ok {
		return router.Validation{OK: true, Reply: "pong", Message: "Validated: provider '" + string(cfg.Kind) + "' looks good."}
	}
	return router.Validation{Reply: "Sorry, I didn't understand.", Message: "Validation failed"}
}

type fixture struct {
	q      *queue.Queue
	listen *fakeListening
	store  *settings.Store
	valid  *fakeValidator
	hub    *notify.Hub
	ctrl   *Controller
}

func newFixture(t *testing.T, qopts ...queue.Option) *fixture {
	t.Helper()
	f := &fixture{
		q:      queue.New(qopts...),
		listen: &fakeListening{state: listening.ListeningBackground},
		store:  settings.New(&settings.Memory{}),
		valid:  &fakeValidator{ok: true},
		hub:    notify.NewHub(),
	}
	ctrl, err := New(Deps{Queue: f.q, Listening: f.listen, Settings: f.store, Validator: f.valid, Events: f.hub})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.ctrl = ctrl
	return f
}

func (f *fixture) server(t *testing.T, opts ...HTTPOption) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.ctrl.Handler(opts...))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestNew_MissingDeps(t *testing.T) {
	t.Parallel()
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestHTTP_TextEnqueuesTypedUtterance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := f.server(t)

	resp, body := do(t, "POST", srv.URL+"/api/text", `{"text":"  open firefox "}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}

	u, ok := f.q.Dequeue(context.Background(), 0)
	if !ok {
		t.Fatal("nothing enqueued")
	}
	if u.Source != queue.SourceTyped || u.Text != "open firefox" {
		t.Errorf("utterance = %+v", u)
	}
	if got["id"] != u.ID.String() {
		t.Errorf("id = %q, want %q", got["id"], u.ID)
	}
}

func TestHTTP_TextErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, queue.WithCapacity(1))
	srv := f.server(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"blank", `{"text":"   "}`, http.StatusBadRequest},
		{"malformed", `{"text":`, http.StatusBadRequest},
		{"unknown field", `{"txt":"hi"}`, http.StatusBadRequest},
		{"accepted", `{"text":"one"}`, http.StatusAccepted},
		{"full", `{"text":"two"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		resp, body := do(t, "POST", srv.URL+"/api/text", tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, resp.StatusCode, tt.want, body)
		}
	}
}

func TestHTTP_MuteAndStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := f.server(t)

	for _, step := range []struct {
		path  string
		muted bool
	}{
		{"/api/mute", true},
		{"/api/unmute", false},
		{"/api/mute/toggle", true},
		{"/api/mute/toggle", false},
	} {
		resp, body := do(t, "POST", srv.URL+step.path, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", step.path, resp.StatusCode)
		}
		var got map[string]bool
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatal(err)
		}
		if got["muted"] != step.muted {
			t.Errorf("%s: muted = %v, want %v", step.path, got["muted"], step.muted)
		}
	}

	_ = f.q.Enqueue(queue.Typed("pending"))
	_, body := do(t, "GET", srv.URL+"/api/status", "")
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	want := Status{State: "listening_background", Queued: 1, Backend: "ollama"}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("status (-want +got):\n%s", diff)
	}
}

func TestHTTP_ListenConflictsWithBackground(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := f.server(t)

	resp, _ := do(t, "POST", srv.URL+"/api/listen", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	f.listen.mu.Lock()
	f.listen.manualErr = capture.ErrBackgroundActive
	f.listen.mu.Unlock()
	resp, body := do(t, "POST", srv.URL+"/api/listen", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 (%s)", resp.StatusCode, body)
	}
}

func TestHTTP_NamesAndSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := f.server(t)
	ctx := context.Background()

	resp, _ := do(t, "PUT", srv.URL+"/api/names", `{"assistant_name":"misaki"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := f.store.AssistantName(ctx); got != "misaki" {
		t.Errorf("assistant name = %q", got)
	}
	if got := f.store.UserName(ctx); got != settings.DefaultUserName {
		t.Errorf("user name changed to %q", got)
	}

	_ = f.store.SetProvider(ctx, settings.Provider{Kind: "groq", APIKey: "gsk-secret"})
	_, body := do(t, "GET", srv.URL+"/api/settings", "")
	if bytes.Contains(body, []byte("gsk-secret")) {
		t.Errorf("settings leak the API key: %s", body)
	}
}

func TestHTTP_ProviderPersistedOnlyWhenValid(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := f.server(t)
	ctx := context.Background()

	f.valid.ok = false
	resp, body := do(t, "PUT", srv.URL+"/api/provider", `{"kind":"Groq","api_key":"bad"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}
	if got := f.store.Provider(ctx).Kind; got != settings.DefaultProvider {
		t.Errorf("provider persisted after failed validation: %q", got)
	}

	f.valid.ok = true
	resp, body = do(t, "PUT", srv.URL+"/api/provider", `{"kind":"Groq","api_key":" gsk "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}
	var v router.Validation
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatal(err)
	}
	if !v.OK {
		t.Errorf("validation = %+v", v)
	}
	want := settings.Provider{Kind: "groq", APIKey: "gsk"}
	if diff := cmp.Diff(want, f.store.Provider(ctx)); diff != "" {
		t.Errorf("stored provider (-want +got):\n%s", diff)
	}
	if f.valid.seen[1].Kind != router.KindGroq {
		t.Errorf("validated kind = %q", f.valid.seen[1].Kind)
	}
}

func TestHTTP_HealthAndMetricsMounted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("luna_turns_total 1\n"))
	})
	srv := f.server(t, WithHealth(health.New()), WithMetricsHandler(metrics))

	for path, want := range map[string]int{"/healthz": 200, "/readyz": 200, "/metrics": 200, "/nope": 404} {
		resp, _ := do(t, "GET", srv.URL+path, "")
		if resp.StatusCode != want {
			t.Errorf("%s: status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestEvents_StreamsFilteredNotifications(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := f.server(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?kinds=reply,notice"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for f.hub.Subscribers() == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.hub.Publish(ctx, notify.User("hello"))
	f.hub.Publish(ctx, notify.Reply("hi there"))
	f.hub.Publish(ctx, notify.State("muted"))
	f.hub.Publish(ctx, notify.Notice("Could not understand audio."))

	var got []string
	for range 2 {
		var ev notify.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, string(ev.Kind)+":"+ev.Text)
	}
	want := []string{"reply:hi there", "notice:Could not understand audio."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}

	f.hub.Close()
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want going away", err)
	}
}

func TestSocket_Roundtrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "luna.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.ServeSocket(ctx, path) }()

	send := func(cmd Command) Response {
		t.Helper()
		var resp Response
		var err error
		for i := 0; i < 100; i++ {
			sctx, scancel := context.WithTimeout(ctx, time.Second)
			resp, err = Send(sctx, path, cmd)
			scancel()
			if err == nil {
				return resp
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("Send(%+v): %v", cmd, err)
		return resp
	}

	if r := send(Command{Cmd: CmdMute}); !r.OK || r.Muted == nil || !*r.Muted {
		t.Errorf("mute = %+v", r)
	}
	if r := send(Command{Cmd: CmdToggle}); !r.OK || *r.Muted {
		t.Errorf("toggle = %+v", r)
	}
	if r := send(Command{Cmd: CmdText, Text: "what time is it"}); !r.OK || r.ID == "" {
		t.Errorf("text = %+v", r)
	}
	if r := send(Command{Cmd: CmdStatus}); !r.OK || r.Status.Queued != 1 {
		t.Errorf("status = %+v", r)
	}
	if r := send(Command{Cmd: "dance"}); r.OK || !strings.Contains(r.Error, "unknown command") {
		t.Errorf("unknown = %+v", r)
	}
	f.listen.mu.Lock()
	f.listen.manualErr = capture.ErrBackgroundActive
	f.listen.mu.Unlock()
	if r := send(Command{Cmd: CmdListen}); r.OK || r.Error != capture.ErrBackgroundActive.Error() {
		t.Errorf("listen = %+v", r)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeSocket = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeSocket did not stop")
	}
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ListenAndServe(ctx, "127.0.0.1:0", f.ctrl.Handler()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("ListenAndServe = %v", err)
		}
	case <-time.After(7 * time.Second):
		t.Fatal("ListenAndServe did not stop")
	}
}
