package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/luna/internal/intent"
)

// ValidationPrompt is sent to a backend to check that it answers.
const ValidationPrompt = "ping"

var badPhrases = []string{
	"there was an error",
	"sorry, i didn't understand",
	"invalid",
	"could not",
	"error",
	"no response",
	"invalid json",
	"invalid json returned",
}

// Validation is the outcome of [Router.Validate].
type Validation struct {
	OK      bool   `json:"ok"`
	Reply   string `json:"reply"`
	Message string `json:"message"`
}

// Validate routes [ValidationPrompt] through cfg without executing tools
// and judges the reply. Callers persist a provider only when OK is true.
func (r *Router) Validate(ctx context.Context, cfg ProviderConfig) Validation {
	if !cfg.Kind.Valid() {
		return Validation{Reply: intent.UnknownReply, Message: fmt.Sprintf("Validation failed: unknown provider '%s'", cfg.Kind)}
	}
	in := r.route(ctx, ValidationPrompt, cfg, false)
	v := Validation{Reply: in.Reply, OK: acceptable(in.Reply)}
	if v.OK {
		v.Message = fmt.Sprintf("Validated: provider '%s' looks good.", cfg.Kind)
	} else {
		v.Message = fmt.Sprintf("Validation failed: assistant reply: '%s'", in.Reply)
	}
	return v
}

func acceptable(reply string) bool {
	reply = strings.TrimSpace(reply)
	if len(reply) <= 2 {
		return false
	}
	lower := strings.ToLower(reply)
	for _, p := range badPhrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}
