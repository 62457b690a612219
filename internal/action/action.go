// Package action defines the closed set of actions luna can perform.
//
// [Action] is an enumeration rather than a string so that every consumer
// can be checked for completeness: the dispatcher requires a handler for
// each value returned by [All], and the tool service registers exactly one
// builtin tool per action.
package action

import (
	"fmt"
	"strings"
)

// Action identifies a side-effecting capability. The zero value is [None].
type Action int

const (
	None Action = iota
	ChangeUserName
	ChangeAssistantName
	GetUserName
	GetAssistantName
	Shutdown
	OpenApp
	SearchWeb
	OpenTab
	CloseTab

	numActions
)

var names = [numActions]string{
	None:                "none",
	ChangeUserName:      "change_user_name",
	ChangeAssistantName: "change_assistant_name",
	GetUserName:         "get_user_name",
	GetAssistantName:    "get_assistant_name",
	Shutdown:            "shutdown",
	OpenApp:             "open_app",
	SearchWeb:           "search_web",
	OpenTab:             "open_tab",
	CloseTab:            "close_tab",
}

// Parameter names carried by actions that take an argument.
const (
	ParamNewName = "new_name"
	ParamApp     = "app"
	ParamQuery   = "query"
	ParamURL     = "url"

	// ParamConfirm is what structured output carries for actions that take
	// no argument, since an action with empty parameters is never run.
	ParamConfirm = "confirm"
)

var params = [numActions]string{
	ChangeUserName:      ParamNewName,
	ChangeAssistantName: ParamNewName,
	OpenApp:             ParamApp,
	SearchWeb:           ParamQuery,
	OpenTab:             ParamURL,
}

// String returns the wire identifier of a, e.g. "open_app".
func (a Action) String() string {
	if a < 0 || a >= numActions {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return names[a]
}

// Param returns the name of the parameter a requires, or "" when it takes
// none.
func (a Action) Param() string {
	if a < 0 || a >= numActions {
		return ""
	}
	return params[a]
}

// Valid reports whether a is a member of the closed set.
func (a Action) Valid() bool { return a >= 0 && a < numActions }

// Parse maps a wire identifier to its Action. Matching ignores case and
// surrounding whitespace. The boolean is false for unknown identifiers, in
// which case None is returned.
func Parse(s string) (Action, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return Action(i), true
		}
	}
	return None, false
}

// All returns every action except None, in declaration order.
func All() []Action {
	out := make([]Action, 0, numActions-1)
	for a := None + 1; a < numActions; a++ {
		out = append(out, a)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("action: invalid value %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	v, ok := Parse(string(b))
	if !ok {
		return fmt.Errorf("action: unknown identifier %q", b)
	}
	*a = v
	return nil
}
