// Package voice turns free text into synthesizer-ready prose and audio.
//
// Authors embed control markup in their messages: pipe pause markers,
// timed pauses, SSML-style break tags and bracket/brace stress marks.
// The rewrite chain below maps all of them onto plain punctuation and
// apostrophe stress, which is what the synthesis engine understands.
package voice

import (
	"regexp"
	"strconv"
	"strings"
)

// The rewrite rules are order-sensitive: a timed pause |0.5| must be
// consumed before the bare-pipe rules, and ||| before || before |,
// because each pattern is a substring of the previous one. Do not
// reorder this chain.
var pauseRules = []rewriteRule{
	{breakTagRe, rewriteBreakTag},
	{timedPauseRe, rewriteTimedPause},
	{triplePipeRe, func(string) string { return ". " }},
	{doublePipeRe, func(string) string { return "; " }},
	{singlePipeRe, func(string) string { return ", " }},
}

type rewriteRule struct {
	pattern *regexp.Regexp
	replace func(match string) string
}

var (
	breakTagRe  = regexp.MustCompile(`(?i)<break\s+time=["']?(\d+\.?\d*)\s*s?["']?\s*/>`)
	timedPauseRe = regexp.MustCompile(`\|(\d+\.?\d*)\|`)
	triplePipeRe = regexp.MustCompile(`\|\|\|`)
	doublePipeRe = regexp.MustCompile(`\|\|`)
	// By the time this rule runs, every multi-pipe run has been consumed
	// by the rules above, so any remaining pipe stands alone.
	singlePipeRe = regexp.MustCompile(`\|`)

	bracketStressRe = regexp.MustCompile(`([\p{L}\p{N}_]+)\[([\p{L}\p{N}_]+)\]([\p{L}\p{N}_]*)`)
	braceStressRe   = regexp.MustCompile(`([\p{L}\p{N}_]+)\{([\p{L}\p{N}_]+)\}([\p{L}\p{N}_]*)`)

	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]+>`)
)

// pauseForDuration maps a pause length in seconds onto punctuation.
// Short pauses read as a comma, medium as a semicolon, long as a period.
func pauseForDuration(raw string) string {
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return ", "
	}
	switch {
	case seconds <= 0.3:
		return ", "
	case seconds <= 0.7:
		return "; "
	default:
		return ". "
	}
}

func rewriteBreakTag(match string) string {
	groups := breakTagRe.FindStringSubmatch(match)
	if len(groups) < 2 {
		return ", "
	}
	return pauseForDuration(groups[1])
}

func rewriteTimedPause(match string) string {
	groups := timedPauseRe.FindStringSubmatch(match)
	if len(groups) < 2 {
		return ", "
	}
	return pauseForDuration(groups[1])
}

// RewritePauses replaces pause markup with punctuation:
//
//	<break time="0.5s"/>  duration-mapped
//	|0.5|                 duration-mapped
//	|||                   ". "
//	||                    "; "
//	|                     ", "
func RewritePauses(text string) string {
	for _, rule := range pauseRules {
		text = rule.pattern.ReplaceAllStringFunc(text, rule.replace)
	}
	return text
}

// RewriteStressMarks converts bracket and brace stress markup into the
// apostrophe form: "sl[o]vo" and "sl{o}vo" both become "sl'ovo".
// Text already carrying apostrophe stress passes through unchanged, so
// the rewrite is idempotent. Nested markers are undefined; the first
// non-overlapping match wins.
func RewriteStressMarks(text string) string {
	text = bracketStressRe.ReplaceAllString(text, "${1}'${2}${3}")
	text = braceStressRe.ReplaceAllString(text, "${1}'${2}${3}")
	return text
}

// RewriteControlMarks runs the full markup chain: pauses first, then
// stress marks, so that pipe markers are gone before stress regexes run.
func RewriteControlMarks(text string) string {
	return RewriteStressMarks(RewritePauses(text))
}

// CleanText strips HTML: <br> variants become spaces, every other tag is
// removed, and whitespace runs collapse to single spaces.
func CleanText(text string) string {
	text = lineBreakRe.ReplaceAllString(text, " ")
	text = htmlTagRe.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// Truncate hard-limits text to max runes, appending an ellipsis when
// anything was cut.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
