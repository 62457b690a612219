package router

import (
	"fmt"
	"strings"

	"github.com/MrWong99/luna/internal/action"
)

// offlinePrompt instructs a local model to answer with a bare JSON object.
func offlinePrompt(user, assistant, command string) string {
	names := make([]string, 0, len(action.All())+1)
	for _, a := range action.All() {
		names = append(names, "'"+a.String()+"'")
	}
	names = append(names, "'"+action.None.String()+"'")

	var b strings.Builder
	b.WriteString("You are a voice assistant. Respond ONLY with a valid JSON object.\n\n")
	b.WriteString("Your response must include:\n")
	b.WriteString("- 'reply': a natural language response\n")
	b.WriteString("- 'action': one of:\n")
	b.WriteString("     " + strings.Join(names, ", ") + "\n")
	b.WriteString("- 'parameters': dictionary of needed data, or {} if none.\n")
	b.WriteString("  Use 'new_name' for name changes, 'app' for open_app, 'query' for search_web and 'url' for open_tab.\n")
	fmt.Fprintf(&b, "  Actions without data (%s) use {\"%s\": \"yes\"}.\n\n", strings.Join(parameterless(), ", "), action.ParamConfirm)
	fmt.Fprintf(&b, "User name is '%s'. Assistant name is '%s'.\n", user, assistant)
	b.WriteString("Rules:\n")
	b.WriteString("- DO NOT include explanations or markdown.\n")
	b.WriteString("- ALWAYS return a single valid JSON object with double quotes.\n")
	fmt.Fprintf(&b, "User command: %s", command)
	return b.String()
}

func parameterless() []string {
	var out []string
	for _, a := range action.All() {
		if a.Param() == "" {
			out = append(out, a.String())
		}
	}
	return out
}

// hostedPrompt is the free-form prompt for tool-calling backends.
func hostedPrompt(user, assistant, command string) string {
	return fmt.Sprintf("You are a voice assistant. You can call tools if needed.\n\n"+
		"User name is '%s'. Assistant name is '%s'.\n"+
		"User command: %s", user, assistant, command)
}
