// Package dispatch runs the operating-system effect of a resolved intent
// after its reply has been spoken.
//
// Every [action.Action] has exactly one [Effect] in a [Handlers] table and
// [New] refuses an incomplete table, so there is no way to build a
// dispatcher with an unhandled action.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/luna/internal/action"
	"github.com/MrWong99/luna/internal/intent"
	"github.com/MrWong99/luna/internal/observe"
)

// ErrMissingParameter is returned when an action that needs an argument is
// dispatched without it.
var ErrMissingParameter = errors.New("missing parameter")

// Effect performs the side effect of one action.
type Effect func(ctx context.Context, in intent.Intent) error

// Noop is the effect of actions that are fully resolved during routing.
func Noop(context.Context, intent.Intent) error { return nil }

// Handlers maps every action to its effect. All fields are required.
type Handlers struct {
	None                Effect
	ChangeUserName      Effect
	ChangeAssistantName Effect
	GetUserName         Effect
	GetAssistantName    Effect
	Shutdown            Effect
	OpenApp             Effect
	SearchWeb           Effect
	OpenTab             Effect
	CloseTab            Effect
}

func (h *Handlers) handlerFor(a action.Action) Effect {
	switch a {
	case action.None:
		return h.None
	case action.ChangeUserName:
		return h.ChangeUserName
	case action.ChangeAssistantName:
		return h.ChangeAssistantName
	case action.GetUserName:
		return h.GetUserName
	case action.GetAssistantName:
		return h.GetAssistantName
	case action.Shutdown:
		return h.Shutdown
	case action.OpenApp:
		return h.OpenApp
	case action.SearchWeb:
		return h.SearchWeb
	case action.OpenTab:
		return h.OpenTab
	case action.CloseTab:
		return h.CloseTab
	}
	return nil
}

// Dispatcher executes intents. It is safe for concurrent use as long as the
// effects are.
type Dispatcher struct {
	handlers Handlers
	metrics  *observe.Metrics
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics counts dispatches per action and outcome.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New validates that h covers every action.
func New(h Handlers, opts ...Option) (*Dispatcher, error) {
	var missing []string
	for _, a := range append([]action.Action{action.None}, action.All()...) {
		if h.handlerFor(a) == nil {
			missing = append(missing, a.String())
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("dispatch: no handler for %s", strings.Join(missing, ", "))
	}
	d := &Dispatcher{handlers: h}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Dispatch runs the effect for in. It returns an empty string on success and
// for intents without an action; otherwise it returns the message to speak,
// "Failed to execute <action>: <err>". Panics in effects are recovered.
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent) string {
	if !in.HasAction() {
		if in.Name != "" && !strings.EqualFold(in.Name, action.None.String()) {
			slog.Warn("dispatch: ignoring unroutable action", "action", in.Name)
		}
		return ""
	}

	err := d.run(ctx, in)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.RecordAction(ctx, in.Action.String(), status)
	}
	if err != nil {
		observe.Logger(ctx).Error("dispatch: action failed", "action", in.Action.String(), "err", err)
		return fmt.Sprintf("Failed to execute %s: %v", in.Action, err)
	}
	return ""
}

func (d *Dispatcher) run(ctx context.Context, in intent.Intent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if p := in.Action.Param(); p != "" && strings.TrimSpace(in.Param()) == "" {
		return fmt.Errorf("%w %q", ErrMissingParameter, p)
	}
	return d.handlers.handlerFor(in.Action)(ctx, in)
}
