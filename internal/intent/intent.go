// Package intent defines the normalized outcome of interpreting one
// utterance and recovers it from unreliable model output.
package intent

import (
	"maps"

	"github.com/MrWong99/luna/internal/action"
)

// Replies substituted when no usable model output is available.
const (
	DefaultReply = "Sorry, I didn't understand."
	InvalidReply = "Invalid structured output"
	ErrorReply   = "There was an error understanding you."
	UnknownReply = "Unknown provider."
)

// Intent is the normalized {reply, action, parameters} triple.
//
// Every Intent produced by this package satisfies two invariants: Reply is
// never empty, and an empty Parameters map implies Action == action.None.
type Intent struct {
	Reply      string            `json:"reply"`
	Action     action.Action     `json:"action"`
	Parameters map[string]string `json:"parameters"`

	// Name is the raw action identifier the model emitted, kept for
	// diagnostics when it did not map to a known action.
	Name string `json:"-"`

	// Failed is set when the action was attempted through the tool service
	// and failed. Reply then explains the failure and the action's effect
	// must not run.
	Failed bool `json:"-"`
}

// New builds an Intent from loosely typed parts and enforces the
// invariants. Unknown action names map to action.None.
func New(reply, name string, params map[string]string) Intent {
	a, _ := action.Parse(name)
	in := Intent{Reply: reply, Action: a, Name: name, Parameters: maps.Clone(params)}
	return in.enforce()
}

// FromTool builds the Intent for a tool call a backend made directly. The
// action is kept even without arguments: the backend chose the tool, so
// actions that take no parameter (shutdown, get_user_name, ...) stay
// dispatchable. A missing reply still gets the default.
func FromTool(reply, name string, params map[string]string) Intent {
	a, _ := action.Parse(name)
	in := Intent{Reply: reply, Action: a, Name: name, Parameters: maps.Clone(params)}
	if in.Reply == "" {
		in.Reply = DefaultReply
	}
	if in.Parameters == nil {
		in.Parameters = map[string]string{}
	}
	return in
}

// Reply returns an Intent that only carries a reply.
func Reply(text string) Intent {
	return Intent{Reply: text, Parameters: map[string]string{}}.enforce()
}

// Sentinel is returned when no structured object could be recovered.
func Sentinel() Intent { return Reply(InvalidReply) }

// Apology is returned when the backend could not be reached or answered
// with an unexpected shape.
func Apology() Intent { return Reply(ErrorReply) }

// HasAction reports whether the intent carries something to execute.
func (in Intent) HasAction() bool { return in.Action != action.None }

// Param returns the value of the action's declared parameter.
func (in Intent) Param() string { return in.Parameters[in.Action.Param()] }

func (in Intent) enforce() Intent {
	if in.Reply == "" {
		in.Reply = DefaultReply
	}
	if in.Parameters == nil {
		in.Parameters = map[string]string{}
	}
	if len(in.Parameters) == 0 {
		in.Action = action.None
	}
	return in
}
