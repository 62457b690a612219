package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/MrWong99/luna/internal/intent"
)

// DefaultSearchURL is the search template; %s receives the escaped query.
const DefaultSearchURL = "https://www.google.com/search?q=%s"

// Runner starts a program without waiting for it to finish.
type Runner func(ctx context.Context, name string, args ...string) error

// StartDetached is the default [Runner]. The child outlives the turn, so it
// is not bound to ctx; it is reaped in the background.
func StartDetached(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("dispatch: launched program exited", "program", name, "err", err)
		}
	}()
	return nil
}

// DefaultOpenCommand returns the platform command that opens a URL or
// document with its associated program.
func DefaultOpenCommand() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"cmd", "/c", "start", ""}
	case "darwin":
		return []string{"open"}
	default:
		return []string{"xdg-open"}
	}
}

// DefaultAppCommand returns the platform prefix for launching an application
// by name. An empty prefix runs the name as the executable itself.
func DefaultAppCommand() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"cmd", "/c", "start", ""}
	case "darwin":
		return []string{"open", "-a"}
	default:
		return nil
	}
}

// Launcher starts programs and opens URLs.
type Launcher struct {
	// AppCommand prefixes the application name. See [DefaultAppCommand].
	AppCommand []string

	// OpenCommand prefixes URLs. See [DefaultOpenCommand].
	OpenCommand []string

	Run Runner
}

// NewLauncher returns a Launcher with the platform defaults.
func NewLauncher() *Launcher {
	return &Launcher{
		AppCommand:  DefaultAppCommand(),
		OpenCommand: DefaultOpenCommand(),
		Run:         StartDetached,
	}
}

// OpenApp is the effect of the open_app action.
func (l *Launcher) OpenApp(ctx context.Context, in intent.Intent) error {
	app := strings.TrimSpace(in.Param())
	if app == "" {
		return fmt.Errorf("%w %q", ErrMissingParameter, in.Action.Param())
	}
	return l.exec(ctx, l.AppCommand, app)
}

// Open opens target with the platform URL handler.
func (l *Launcher) Open(ctx context.Context, target string) error {
	return l.exec(ctx, l.OpenCommand, target)
}

func (l *Launcher) exec(ctx context.Context, prefix []string, arg string) error {
	argv := append(append([]string(nil), prefix...), arg)
	if err := l.Run(ctx, argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("launch %s: %w", arg, err)
	}
	return nil
}

// Browser implements the web actions on top of a [Launcher].
type Browser struct {
	Launcher *Launcher

	// SearchURL is a fmt template with one %s verb.
	SearchURL string
}

// NewBrowser returns a Browser using l and [DefaultSearchURL].
func NewBrowser(l *Launcher) *Browser {
	return &Browser{Launcher: l, SearchURL: DefaultSearchURL}
}

// Search is the effect of the search_web action.
func (b *Browser) Search(ctx context.Context, in intent.Intent) error {
	q := strings.TrimSpace(in.Param())
	return b.Launcher.Open(ctx, fmt.Sprintf(b.SearchURL, url.QueryEscape(q)))
}

// OpenTab is the effect of the open_tab action. Bare hosts get an https
// scheme.
func (b *Browser) OpenTab(ctx context.Context, in intent.Intent) error {
	target, err := NormalizeURL(in.Param())
	if err != nil {
		return err
	}
	return b.Launcher.Open(ctx, target)
}

// NormalizeURL turns "example.com/x" into "https://example.com/x" and
// rejects schemes other than http and https.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w %q", ErrMissingParameter, "url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: no host", raw)
	}
	return u.String(), nil
}

// Terminator requests a graceful process shutdown.
type Terminator struct {
	Stop func()
}

// Shutdown is the effect of the shutdown action.
func (t Terminator) Shutdown(_ context.Context, _ intent.Intent) error {
	if t.Stop == nil {
		return fmt.Errorf("no shutdown hook installed")
	}
	t.Stop()
	return nil
}

// DefaultHandlers wires the standard effects. Actions resolved entirely by
// the tool service map to [Noop].
func DefaultHandlers(l *Launcher, b *Browser, t Terminator) Handlers {
	return Handlers{
		None:                Noop,
		ChangeUserName:      Noop,
		ChangeAssistantName: Noop,
		GetUserName:         Noop,
		GetAssistantName:    Noop,
		Shutdown:            t.Shutdown,
		OpenApp:             l.OpenApp,
		SearchWeb:           b.Search,
		OpenTab:             b.OpenTab,
		CloseTab:            Noop,
	}
}
