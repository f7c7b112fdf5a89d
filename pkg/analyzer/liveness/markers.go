package liveness

import (
	"regexp"
	"strings"
)

// Marker is a comment flagging code as dead, e.g. "# TODO dead code: method old_draw".
// Markers are informational unless liveness.markers_force_unused is set.
type Marker struct {
	File   string `json:"file" yaml:"file" toon:"file"`
	Line   uint32 `json:"line" yaml:"line" toon:"line"`
	Tag    string `json:"tag" yaml:"tag" toon:"tag"`
	Target string `json:"target,omitempty" yaml:"target,omitempty" toon:"target,omitempty"`
	Text   string `json:"text" yaml:"text" toon:"text"`
}

var (
	markerTag    = regexp.MustCompile(`\b(TODO|FIXME)\b`)
	markerTarget = regexp.MustCompile(`(?i)(?:method|function|метод|функция)\s+([\p{L}_][\p{L}\p{N}_.]*)`)
	markerPhrase = []string{"dead code", "мертвый код", "мёртвый код"}
)

// parseMarker inspects a single comment. ok is false when the comment is not a
// dead-code marker.
func parseMarker(comment string) (tag, target string, ok bool) {
	loc := markerTag.FindStringSubmatchIndex(comment)
	if loc == nil {
		return "", "", false
	}
	tag = comment[loc[2]:loc[3]]
	rest := comment[loc[1]:]

	lower := strings.ToLower(rest)
	found := false
	for _, phrase := range markerPhrase {
		if strings.Contains(lower, phrase) {
			found = true
			break
		}
	}
	if !found {
		return "", "", false
	}

	if m := markerTarget.FindStringSubmatch(rest); m != nil {
		target = strings.TrimRight(m[1], ".")
	}
	return tag, target, true
}
