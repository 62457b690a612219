package mcphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/luna/internal/action"
	"github.com/MrWong99/luna/pkg/provider/llm"
)

// Names is the part of the settings store the action tools read and write.
type Names interface {
	UserName(ctx context.Context) string
	AssistantName(ctx context.Context) string
	SetUserName(ctx context.Context, name string) error
	SetAssistantName(ctx context.Context, name string) error
}

// ErrMissingParameter is wrapped when a required action argument is absent.
var ErrMissingParameter = errors.New("missing parameter")

var descriptions = map[action.Action]string{
	action.ChangeUserName:      "Change the stored user name.",
	action.ChangeAssistantName: "Change the assistant's name.",
	action.GetUserName:         "Get the stored user name.",
	action.GetAssistantName:    "Get the assistant's name.",
	action.Shutdown:            "Shut down the assistant.",
	action.OpenApp:             "Open an application by name.",
	action.SearchWeb:           "Search the web for a query.",
	action.OpenTab:             "Open a URL in a new browser tab.",
	action.CloseTab:            "Close the current browser tab.",
}

var paramDescriptions = map[string]string{
	action.ParamNewName: "The new name.",
	action.ParamApp:     "Name of the application to open.",
	action.ParamQuery:   "The search query.",
	action.ParamURL:     "The address to open.",
}

// ActionTools returns one builtin per executable action. Each handler
// validates its argument, applies settings changes and returns the sentence
// the assistant speaks. Operating-system effects are left to the dispatcher.
func ActionTools(names Names) []BuiltinTool {
	tools := make([]BuiltinTool, 0, len(action.All()))
	for _, a := range action.All() {
		tools = append(tools, BuiltinTool{
			Definition: llm.ToolDefinition{
				Name:                a.String(),
				Description:         descriptions[a],
				Parameters:          schemaFor(a),
				EstimatedDurationMs: 5,
				MaxDurationMs:       2000,
			},
			Handler: actionHandler(a, names),
		})
	}
	return tools
}

// RegisterActions registers [ActionTools] on h.
func RegisterActions(h *Host, names Names) error {
	for _, t := range ActionTools(names) {
		if err := h.RegisterBuiltin(t); err != nil {
			return err
		}
	}
	return nil
}

func schemaFor(a action.Action) map[string]any {
	p := a.Param()
	if p == "" {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			p: map[string]any{"type": "string", "description": paramDescriptions[p]},
		},
		"required": []string{p},
	}
}

func actionHandler(a action.Action, names Names) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var arg string
		if p := a.Param(); p != "" {
			v, err := stringArg(args, p)
			if err != nil {
				return "", err
			}
			arg = v
		}

		switch a {
		case action.ChangeUserName:
			if err := names.SetUserName(ctx, arg); err != nil {
				return "", err
			}
			return fmt.Sprintf("Okay, I'll call you %s now.", arg), nil
		case action.ChangeAssistantName:
			if err := names.SetAssistantName(ctx, arg); err != nil {
				return "", err
			}
			return fmt.Sprintf("My new name is %s.", arg), nil
		case action.GetUserName:
			return fmt.Sprintf("Your name is %s.", names.UserName(ctx)), nil
		case action.GetAssistantName:
			return fmt.Sprintf("My name is %s.", names.AssistantName(ctx)), nil
		case action.Shutdown:
			return "Okay, shutting down.", nil
		case action.OpenApp:
			return fmt.Sprintf("Opening %s.", arg), nil
		case action.SearchWeb:
			return fmt.Sprintf("Here are the search results for %s.", arg), nil
		case action.OpenTab:
			return fmt.Sprintf("Opening %s in a new tab.", arg), nil
		case action.CloseTab:
			return "Closing tabs is not supported yet. You may need a browser extension.", nil
		}
		return "", fmt.Errorf("action %s has no tool", a)
	}
}

// stringArg extracts key from a JSON object, stringifying scalars.
func stringArg(args, key string) (string, error) {
	var m map[string]any
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &m); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	var s string
	switch v := m[key].(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w %q", ErrMissingParameter, key)
	}
	return s, nil
}
