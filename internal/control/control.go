// Package control is the headless presentation layer of luna. It exposes
// the same operations over an HTTP API with a websocket event stream and a
// unix-socket command interface: typed commands, mute, manual capture,
// names and provider selection.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/luna/internal/listening"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/internal/router"
	"github.com/MrWong99/luna/internal/settings"
)

// ErrEmptyText is returned when a typed command is blank.
var ErrEmptyText = errors.New("control: empty text")

// Queue accepts typed commands. [queue.Queue] implements it.
type Queue interface {
	Enqueue(u queue.Utterance) error
	Len() int
}

// Listening is the subset of [listening.Machine] the controller drives.
type Listening interface {
	State() listening.State
	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	RequestManual(ctx context.Context) error
}

// Settings is the subset of [settings.Store] exposed to clients.
type Settings interface {
	Snapshot(ctx context.Context) (map[string]string, error)
	Provider(ctx context.Context) settings.Provider
	SetProvider(ctx context.Context, p settings.Provider) error
	SetUserName(ctx context.Context, name string) error
	SetAssistantName(ctx context.Context, name string) error
}

// Validator checks a backend before it is persisted. [router.Router]
// implements it.
type Validator interface {
	Validate(ctx context.Context, cfg router.ProviderConfig) router.Validation
}

// Events is the notification source. [notify.Hub] implements it.
type Events interface {
	Subscribe(buffer int) (<-chan notify.Event, func())
}

// Deps are the collaborators of a [Controller]. All are required.
type Deps struct {
	Queue     Queue
	Listening Listening
	Settings  Settings
	Validator Validator
	Events    Events
}

// Controller implements the client-facing operations shared by the HTTP
// and socket servers.
type Controller struct {
	deps Deps
}

// New creates a controller.
func New(deps Deps) (*Controller, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("control: missing Queue")
	case deps.Listening == nil:
		return nil, errors.New("control: missing Listening")
	case deps.Settings == nil:
		return nil, errors.New("control: missing Settings")
	case deps.Validator == nil:
		return nil, errors.New("control: missing Validator")
	case deps.Events == nil:
		return nil, errors.New("control: missing Events")
	}
	return &Controller{deps: deps}, nil
}

// Status is a point-in-time view of the assistant.
type Status struct {
	State   string `json:"state"`
	Queued  int    `json:"queued"`
	Muted   bool   `json:"muted"`
	Backend string `json:"backend"`
}

// Status reports the listening state, queue depth and active backend.
func (c *Controller) Status(ctx context.Context) Status {
	st := c.deps.Listening.State()
	return Status{
		State:   st.String(),
		Queued:  c.deps.Queue.Len(),
		Muted:   st == listening.Muted,
		Backend: string(router.ParseKind(c.deps.Settings.Provider(ctx).Kind)),
	}
}

// Text enqueues a typed command and returns its utterance ID.
func (c *Controller) Text(text string) (uuid.UUID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return uuid.Nil, ErrEmptyText
	}
	u := queue.Typed(text)
	if err := c.deps.Queue.Enqueue(u); err != nil {
		return uuid.Nil, fmt.Errorf("control: enqueue: %w", err)
	}
	return u.ID, nil
}

// SetMuted mutes or unmutes and returns the new mute flag.
func (c *Controller) SetMuted(ctx context.Context, muted bool) (bool, error) {
	var err error
	if muted {
		err = c.deps.Listening.Mute(ctx)
	} else {
		err = c.deps.Listening.Unmute(ctx)
	}
	return muted, err
}

// ToggleMute flips the mute flag.
func (c *Controller) ToggleMute(ctx context.Context) (bool, error) {
	return c.deps.Listening.ToggleMute(ctx)
}

// Listen requests a manual one-shot capture.
func (c *Controller) Listen(ctx context.Context) error {
	return c.deps.Listening.RequestManual(ctx)
}

// Settings returns the stored configuration with the API key redacted.
func (c *Controller) Settings(ctx context.Context) (map[string]string, error) {
	return c.deps.Settings.Snapshot(ctx)
}

// Names updates the user and/or assistant name. Empty values are left
// untouched.
type Names struct {
	UserName      string `json:"user_name"`
	AssistantName string `json:"assistant_name"`
}

// SetNames persists the non-empty names.
func (c *Controller) SetNames(ctx context.Context, n Names) error {
	if u := strings.TrimSpace(n.UserName); u != "" {
		if err := c.deps.Settings.SetUserName(ctx, u); err != nil {
			return err
		}
	}
	if a := strings.TrimSpace(n.AssistantName); a != "" {
		if err := c.deps.Settings.SetAssistantName(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// ProviderRequest selects an AI backend.
type ProviderRequest struct {
	Kind    string `json:"kind"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
}

// SetProvider validates the backend with a probe prompt and persists it
// only when the probe succeeds.
func (c *Controller) SetProvider(ctx context.Context, req ProviderRequest) (router.Validation, error) {
	p := settings.Provider{
		Kind:    string(router.ParseKind(req.Kind)),
		APIKey:  strings.TrimSpace(req.APIKey),
		Model:   strings.TrimSpace(req.Model),
		BaseURL: strings.TrimSpace(req.BaseURL),
	}
	v := c.deps.Validator.Validate(ctx, router.ConfigFrom(p))
	if !v.OK {
		return v, nil
	}
	if err := c.deps.Settings.SetProvider(ctx, p); err != nil {
		return v, err
	}
	return v, nil
}
