package intent

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var (
	thinkRe      = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fenceOpenRe  = regexp.MustCompile("^```(?:json)?\n?")
	fenceCloseRe = regexp.MustCompile("\n?```$")
	objectRe     = regexp.MustCompile(`\{[\s\S]*\}`)
	quotedValRe  = regexp.MustCompile(`:\s*'(.*?)'`)
)

// Normalize recovers an Intent from raw model output. It never fails:
// output without a recoverable object yields [Sentinel], and missing fields
// take their defaults.
func Normalize(raw string) Intent {
	obj, ok := extract(raw)
	if !ok {
		return Sentinel()
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		repaired := Repair(obj)
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			slog.Debug("intent: unrecoverable model output", "err", err, "text", repaired)
			return Sentinel()
		}
	}
	return fromMap(parsed)
}

// extract strips reasoning markup and code fences and returns the span from
// the first '{' to the last '}'.
func extract(raw string) (string, bool) {
	text := thinkRe.ReplaceAllString(raw, "")
	text = fenceOpenRe.ReplaceAllString(strings.TrimSpace(text), "")
	text = fenceCloseRe.ReplaceAllString(strings.TrimSpace(text), "")
	obj := objectRe.FindString(text)
	return obj, obj != ""
}

// Repair rewrites the two quoting mistakes small models commonly make:
// single-quoted keys ('reply': ...) and single-quoted string values
// (: 'hello'). Embedded double quotes in repaired values are escaped.
func Repair(s string) string {
	return repairValues(repairKeys(s))
}

// repairKeys turns 'key': into "key": unless the opening quote directly
// follows a letter, which would make it an apostrophe inside a word.
func repairKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		if s[i] == '\'' && (i == 0 || !isLetterBefore(s, i)) {
			end := strings.IndexByte(s[i+1:], '\'')
			if end >= 0 {
				j := i + 1 + end
				if j+1 < len(s) && s[j+1] == ':' {
					b.WriteByte('"')
					b.WriteString(s[i+1 : j])
					b.WriteString(`":`)
					i = j + 2
					continue
				}
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func isLetterBefore(s string, i int) bool {
	c := s[i-1]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func repairValues(s string) string {
	return quotedValRe.ReplaceAllStringFunc(s, func(m string) string {
		inner := quotedValRe.FindStringSubmatch(m)[1]
		return `: "` + strings.ReplaceAll(inner, `"`, `\"`) + `"`
	})
}

func fromMap(m map[string]any) Intent {
	reply, _ := m["reply"].(string)
	name, _ := m["action"].(string)

	params := map[string]string{}
	if raw, ok := m["parameters"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := stringify(v); ok {
				params[k] = s
			}
		}
	}
	return New(reply, name, params)
}

// stringify renders scalar JSON values as strings. Nulls and nested values
// are dropped.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// Arguments decodes a tool-call argument object into intent parameters
// using the same scalar rules as [Normalize]. Malformed input yields an
// empty map.
func Arguments(argsJSON string) map[string]string {
	params := map[string]string{}
	var raw map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &raw); err != nil {
		return params
	}
	for k, v := range raw {
		if s, ok := stringify(v); ok {
			params[k] = s
		}
	}
	return params
}
