// Package app wires all luna subsystems into a running assistant.
//
// The App owns the full lifecycle: New constructs every worker and injects
// its dependencies explicitly, Run supervises the long-lived goroutines
// (capture, turn processor, control servers, config watcher) and Shutdown
// releases devices and stores in order.
//
// For testing, inject doubles via functional options (WithSettings,
// WithBackendFactory, WithLauncher). Providers are always passed in.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/config"
	"github.com/MrWong99/luna/internal/control"
	"github.com/MrWong99/luna/internal/dispatch"
	"github.com/MrWong99/luna/internal/health"
	"github.com/MrWong99/luna/internal/listening"
	"github.com/MrWong99/luna/internal/mcp/mcphost"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/processor"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/internal/resilience"
	"github.com/MrWong99/luna/internal/router"
	"github.com/MrWong99/luna/internal/settings"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// Providers holds the speech and device implementations built by main from
// the config registry. All fields are required.
type Providers struct {
	Recognizer stt.Recognizer
	Synth      tts.Provider
	Microphone audio.Microphone
	Speaker    audio.Speaker
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store      *settings.Store
	factory    router.BackendFactory
	launcher   *dispatch.Launcher
	metrics    *observe.Metrics
	metricsH   http.Handler
	watcher    *config.Watcher
	levelVar   *slog.LevelVar
	apiKey     string
	hub        *notify.Hub
	queue      *queue.Queue
	host       *mcphost.Host
	breakers   *resilience.Registry
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	capture    *capture.Scheduler
	listen     *listening.Machine
	proc       *processor.Processor
	ctrl       *control.Controller
	health     *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	mu   sync.Mutex
	stop context.CancelFunc

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSettings injects a settings store instead of opening the configured
// backend.
func WithSettings(s *settings.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBackendFactory replaces the default AI backend factory.
func WithBackendFactory(f router.BackendFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithLauncher replaces the process launcher used by app and web actions.
func WithLauncher(l *dispatch.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics on the control API.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithWatcher runs w under the app and applies live config changes.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLogLevel lets config reloads adjust the log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithAPIKey seeds the backend API key when the settings store holds none.
func WithAPIKey(key string) Option {
	return func(a *App) { a.apiKey = key }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: settings store, seeding, tool host and external MCP servers,
// router, dispatcher, queue, capture, listening machine, processor and
// control surface.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Recognizer == nil || providers.Synth == nil ||
		providers.Microphone == nil || providers.Speaker == nil {
		return nil, errors.New("app: recognizer, synthesizer, microphone and speaker are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.closers = append(a.closers, providers.Microphone.Close, providers.Speaker.Close)

	if err := a.initSettings(ctx); err != nil {
		return nil, a.fail(fmt.Errorf("app: init settings: %w", err))
	}
	if err := a.seed(ctx); err != nil {
		return nil, a.fail(fmt.Errorf("app: seed settings: %w", err))
	}
	if err := a.initTools(ctx); err != nil {
		return nil, a.fail(fmt.Errorf("app: init tools: %w", err))
	}
	a.hub = notify.NewHub(notify.WithMetrics(a.metrics))
	a.closers = append(a.closers, func() error { a.hub.Close(); return nil })
	if err := a.initRouting(); err != nil {
		return nil, a.fail(fmt.Errorf("app: init router: %w", err))
	}
	if err := a.initWorkers(); err != nil {
		return nil, a.fail(fmt.Errorf("app: init workers: %w", err))
	}
	if err := a.initControl(); err != nil {
		return nil, a.fail(fmt.Errorf("app: init control: %w", err))
	}
	return a, nil
}

// fail releases what New has opened so far.
func (a *App) fail(err error) error {
	_ = a.Shutdown(context.Background())
	return err
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initSettings(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	var (
		b   settings.Backend
		err error
	)
	switch a.cfg.Settings.Driver {
	case config.DriverSQLite:
		b, err = settings.OpenSQLite(ctx, a.cfg.Settings.DSN)
	case config.DriverPostgres:
		b, err = settings.OpenPostgres(ctx, a.cfg.Settings.DSN)
	case config.DriverMemory:
		b = &settings.Memory{}
	default:
		err = fmt.Errorf("unknown driver %q", a.cfg.Settings.Driver)
	}
	if err != nil {
		return err
	}
	a.store = settings.New(b)
	a.closers = append(a.closers, a.store.Close)
	slog.Info("settings store opened", "driver", a.cfg.Settings.Driver)
	return nil
}

// seed writes configured names and backend into the store where it holds
// no value yet. Values changed at runtime always win over the file.
func (a *App) seed(ctx context.Context) error {
	asst := a.cfg.Assistant
	seeds := []struct{ key, value string }{
		{settings.KeyUserName, asst.UserName},
		{settings.KeyAssistantName, asst.AssistantName},
		{settings.KeyProvider, string(router.ParseKind(asst.Provider))},
		{settings.KeyModel, asst.Model},
		{settings.KeyBaseURL, asst.BaseURL},
		{settings.KeyAPIKey, a.apiKey},
	}
	for _, s := range seeds {
		if s.value == "" || a.store.Get(ctx, s.key, "") != "" {
			continue
		}
		if err := a.store.Set(ctx, s.key, s.value); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initTools(ctx context.Context) error {
	a.host = mcphost.New(mcphost.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.host.Close)
	if err := mcphost.RegisterActions(a.host, a.store); err != nil {
		return err
	}
	for _, srv := range a.cfg.MCP.Servers {
		if err := a.host.RegisterServer(ctx, srv.ServerConfig()); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}
	return nil
}

func (a *App) initRouting() error {
	if a.factory == nil {
		f := &router.Factory{}
		if addr := a.cfg.Router.SOCKSProxy; addr != "" {
			client, err := router.NewSOCKSClient(addr, a.cfg.Router.Timeout)
			if err != nil {
				return err
			}
			f.HTTPClient = client
		}
		a.factory = f
	}
	a.breakers = resilience.NewRegistry(resilience.CircuitBreakerConfig{
		MaxFailures:   a.cfg.Router.Breaker.MaxFailures,
		ResetTimeout:  a.cfg.Router.Breaker.ResetTimeout,
		OnStateChange: a.backendChanged,
	})
	a.router = router.New(a.factory, a.host, a.store,
		router.WithTimeout(a.cfg.Router.Timeout),
		router.WithMetrics(a.metrics),
		router.WithBreakers(a.breakers),
	)

	if a.launcher == nil {
		a.launcher = dispatch.NewLauncher()
	}
	browser := dispatch.NewBrowser(a.launcher)
	if a.cfg.Assistant.SearchURL != "" {
		browser.SearchURL = a.cfg.Assistant.SearchURL
	}
	d, err := dispatch.New(
		dispatch.DefaultHandlers(a.launcher, browser, dispatch.Terminator{Stop: a.RequestStop}),
		dispatch.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.dispatcher = d
	return nil
}

// backendChanged tells the user when a hosted backend stops or resumes
// answering. The half-open probe phase is not announced.
func (a *App) backendChanged(name string, _, to resilience.State) {
	if a.metrics != nil {
		a.metrics.RecordBackendTransition(context.Background(), backendName(name), to.String())
	}
	var msg string
	switch to {
	case resilience.StateOpen:
		msg = fmt.Sprintf("%s is not responding, requests are paused for a while", backendName(name))
	case resilience.StateClosed:
		msg = fmt.Sprintf("%s is responding again", backendName(name))
	default:
		return
	}
	a.hub.Publish(context.Background(), notify.Notice(msg))
}

// backendName strips the registry prefix, e.g. "llm:groq" becomes "groq".
func backendName(key string) string {
	if _, after, ok := strings.Cut(key, ":"); ok {
		return after
	}
	return key
}

func (a *App) initWorkers() error {
	qopts := []queue.Option{queue.WithMetrics(a.metrics)}
	if n := a.cfg.Processor.QueueCapacity; n > 0 {
		qopts = append(qopts, queue.WithCapacity(n))
	}
	a.queue = queue.New(qopts...)

	a.capture = capture.New(a.providers.Microphone, a.queue,
		capture.WithConfig(captureConfig(a.cfg.Listening)),
		capture.WithNotifier(a.hub),
		capture.WithMetrics(a.metrics),
	)
	a.listen = listening.New(a.capture, a.queue, a.store, a.hub)
	a.capture.OnFailure(a.listen.CaptureFailed)

	popts := []processor.Option{
		processor.WithPollInterval(a.cfg.Processor.PollInterval),
		processor.WithVoice(voice(a.cfg.Processor.Voice)),
		processor.WithShutdown(a.RequestStop),
		processor.WithSpeechLevels(a.cfg.Processor.SpeechLevels),
		processor.WithMetrics(a.metrics),
	}
	if len(a.cfg.Assistant.Shortcuts) > 0 {
		popts = append(popts, processor.WithShortcuts(a.cfg.Assistant.Shortcuts))
	}
	p, err := processor.New(processor.Deps{
		Source:     a.queue,
		Recognizer: a.providers.Recognizer,
		Router:     a.router,
		Dispatcher: a.dispatcher,
		Synth:      a.providers.Synth,
		Speaker:    a.providers.Speaker,
		Settings:   a.store,
		Speaking:   a.listen,
		Notifier:   a.hub,
	}, popts...)
	if err != nil {
		return err
	}
	a.proc = p
	return nil
}

func (a *App) initControl() error {
	ctrl, err := control.New(control.Deps{
		Queue:     a.queue,
		Listening: a.listen,
		Settings:  a.store,
		Validator: a.router,
		Events:    a.hub,
	})
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	checks := []health.Checker{
		health.Ping("settings", a.store),
		health.Tools("tools", a.host, 5, 0.5),
		health.Breakers("backends", a.breakers),
	}
	if r, ok := a.providers.Recognizer.(health.Reporter); ok {
		checks = append(checks, health.Healthy("stt", r))
	}
	if r, ok := a.providers.Synth.(health.Reporter); ok {
		checks = append(checks, health.Healthy("tts", r))
	}
	a.health = health.New(checks...)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts listening and all workers and blocks until ctx is cancelled,
// a shutdown is requested or a worker fails. A failed microphone start
// ends Run with an error. Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.stop = cancel
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	if err := a.listen.Start(gctx); err != nil {
		return fmt.Errorf("app: start listening: %w", err)
	}

	g.Go(func() error {
		if a.cfg.Assistant.GreetEnabled() {
			a.proc.Greet(gctx)
		}
		return a.proc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.listen.Stop()
		a.queue.Close()
		return nil
	})
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error { return control.ListenAndServe(gctx, addr, a.Handler()) })
	}
	if path := a.cfg.Server.Socket; path != "" {
		g.Go(func() error { return a.ctrl.ServeSocket(gctx, path) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running",
		"state", a.listen.State().String(),
		"http", a.cfg.Server.ListenAddr,
		"socket", a.cfg.Server.Socket,
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RequestStop ends Run gracefully. It is safe to call at any time.
func (a *App) RequestStop() {
	a.mu.Lock()
	stop := a.stop
	a.mu.Unlock()
	if stop != nil {
		slog.Info("shutdown requested")
		stop()
	}
}

// Handler returns the control API including health and metrics routes.
func (a *App) Handler() http.Handler {
	opts := []control.HTTPOption{
		control.WithHealth(a.health),
		control.WithMiddleware(observe.Middleware(a.metrics)),
	}
	if a.metricsH != nil {
		opts = append(opts, control.WithMetricsHandler(a.metricsH))
	}
	return a.ctrl.Handler(opts...)
}

// ApplyConfig applies the live-reloadable part of a config change.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(LogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		a.proc.SetVoice(voice(d.NewVoice))
		slog.Info("voice changed", "id", d.NewVoice.ID)
	}
	if d.ShortcutsChanged {
		shortcuts := d.NewShortcuts
		if len(shortcuts) == 0 {
			shortcuts = processor.DefaultShortcuts
		}
		a.proc.SetShortcuts(shortcuts)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems in order. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		var errs []error
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, err)
				break
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// LogLevel converts a config level to slog.
func LogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func captureConfig(l config.ListeningConfig) capture.Config {
	return capture.Config{
		Threshold:     l.Threshold,
		Silence:       l.Silence,
		PhraseLimit:   l.PhraseLimit,
		ListenTimeout: l.ListenTimeout,
		ManualTimeout: l.ManualTimeout,
		Ambient:       l.Ambient,
		LevelEvery:    l.LevelEvery,
	}
}

func voice(v config.VoiceConfig) tts.Voice {
	return tts.Voice{ID: v.ID, Speed: v.Speed}
}

// Store exposes the settings store, e.g. for the startup summary.
func (a *App) Store() *settings.Store { return a.store }

// State reports the listening state.
func (a *App) State() listening.State { return a.listen.State() }
