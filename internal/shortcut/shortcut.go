// Package shortcut detects voice shortcut phrases in recognised text.
//
// Recognisers often split or misspell short commands ("shut down yourself",
// "stop listning"). Besides an exact substring test the [Matcher] slides a
// window over the transcript and accepts a window when
//
//  1. at least one of its words shares a Double Metaphone code with a word
//     of the phrase, and
//  2. the Jaro-Winkler similarity of the window and the phrase, both with
//     spaces removed, reaches the threshold.
//
// Windows span one word fewer to one word more than the phrase so split and
// merged words are both covered.
package shortcut

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the minimum Jaro-Winkler score of a fuzzy match.
const DefaultThreshold = 0.93

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum similarity for fuzzy matches. Values
// above 1 disable fuzzy matching.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

type phrase struct {
	raw    string
	norm   string
	tokens []string
	concat string
	codes  map[string]struct{}
}

// Matcher matches a fixed set of phrases. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	phrases   []phrase
}

// New returns a Matcher for phrases. Blank phrases are ignored.
func New(phrases []string, opts ...Option) *Matcher {
	m := &Matcher{threshold: DefaultThreshold}
	for _, o := range opts {
		o(m)
	}
	for _, raw := range phrases {
		tokens := tokenize(raw)
		if len(tokens) == 0 {
			continue
		}
		m.phrases = append(m.phrases, phrase{
			raw:    raw,
			norm:   strings.Join(tokens, " "),
			tokens: tokens,
			concat: strings.Join(tokens, ""),
			codes:  codesForTokens(tokens),
		})
	}
	return m
}

// Len reports how many phrases the matcher holds.
func (m *Matcher) Len() int { return len(m.phrases) }

// Match reports the first phrase found in text, its confidence in [0,1]
// and whether any matched. Exact matches have confidence 1.
func (m *Matcher) Match(text string) (matched string, confidence float64, ok bool) {
	tokens := tokenize(text)
	if len(tokens) == 0 || len(m.phrases) == 0 {
		return "", 0, false
	}
	norm := " " + strings.Join(tokens, " ") + " "
	for _, p := range m.phrases {
		if strings.Contains(norm, " "+p.norm+" ") {
			return p.raw, 1, true
		}
	}
	if m.threshold > 1 {
		return "", 0, false
	}

	var (
		best      phrase
		bestScore float64
	)
	for _, p := range m.phrases {
		if s := m.bestWindow(tokens, p); s > bestScore {
			best, bestScore = p, s
		}
	}
	if bestScore == 0 {
		return "", 0, false
	}
	return best.raw, bestScore, true
}

// bestWindow returns the highest accepted window score for p, or 0.
func (m *Matcher) bestWindow(tokens []string, p phrase) float64 {
	var best float64
	for size := max(1, len(p.tokens)-1); size <= len(p.tokens)+1; size++ {
		for start := 0; start+size <= len(tokens); start++ {
			window := tokens[start : start+size]
			if !codesOverlap(codesForTokens(window), p.codes) {
				continue
			}
			score := matchr.JaroWinkler(strings.Join(window, ""), p.concat, false)
			if score >= m.threshold && score > best {
				best = score
			}
		}
	}
	return best
}

// tokenize lowercases s and splits it into words, dropping punctuation.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
