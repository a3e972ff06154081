// Package dialect scores free text against per-dialect marker sets to pick a
// regional Arabic variant. It is a weighted heuristic, not a classifier.
package dialect

import (
	"regexp"
	"strings"
)

type Dialect string

const (
	MSA       Dialect = "msa"
	Egyptian  Dialect = "egyptian"
	Gulf      Dialect = "gulf"
	Levantine Dialect = "levantine"
	Maghrebi  Dialect = "maghrebi"
)

// Auto asks the gateway to detect the dialect from the user's text.
const Auto = "auto"

func Parse(s string) (Dialect, bool) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(s))); d {
	case MSA, Egyptian, Gulf, Levantine, Maghrebi:
		return d, true
	}
	return "", false
}

type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type Result struct {
	Dialect    Dialect
	Confidence Confidence
	Matched    []string
	Score      int
}

var (
	wordPattern = regexp.MustCompile(`[\p{L}\p{M}]+`)
	diacritics  = regexp.MustCompile(`[\x{064B}-\x{065F}\x{0670}\x{0640}]`)
)

func confidenceFor(score int) Confidence {
	switch {
	case score >= 5:
		return ConfidenceHigh
	case score >= 3:
		return ConfidenceMedium
	case score >= 1:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// Detect scores text against every dialect profile. Each marker counts once
// per group however often it appears. The first dialect reaching the highest
// score wins; a zero score yields MSA with confidence none.
func Detect(text string) Result {
	words := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(diacritics.ReplaceAllString(text, ""), -1) {
		words[w] = struct{}{}
	}

	best := Result{Dialect: MSA, Confidence: ConfidenceNone}
	for _, p := range profiles {
		score := 0
		var matched []string
		for _, g := range p.groups {
			for _, m := range g.markers {
				if _, ok := words[m]; ok {
					score += g.weight
					matched = append(matched, m)
				}
			}
		}
		if score > best.Score {
			best = Result{Dialect: p.dialect, Matched: matched, Score: score}
		}
	}

	best.Confidence = confidenceFor(best.Score)
	return best
}

// Selection is the dialect a turn will be answered in.
type Selection struct {
	Dialect   Dialect
	Detection *Result
}

// Resolve turns the caller's dialect selector into the dialect to apply.
// For "auto" the detected dialect is used only at medium or high
// confidence; otherwise the formal default applies. An empty or unknown
// selector also yields the formal default.
func Resolve(selector, text string) Selection {
	if strings.EqualFold(strings.TrimSpace(selector), Auto) {
		res := Detect(text)
		sel := Selection{Dialect: MSA, Detection: &res}
		if res.Confidence == ConfidenceMedium || res.Confidence == ConfidenceHigh {
			sel.Dialect = res.Dialect
		}
		return sel
	}

	if d, ok := Parse(selector); ok {
		return Selection{Dialect: d}
	}
	return Selection{Dialect: MSA}
}
