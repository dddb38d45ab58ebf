package correlation

import (
	"regexp"
	"strings"
)

// UnknownError is reported when nothing usable can be extracted.
const UnknownError = "Unknown error"

// Tier records which extraction rule produced the message.
type Tier string

const (
	TierStrict   Tier = "strict"
	TierFragment Tier = "fragment"
	TierTrailing Tier = "trailing"
	TierRaw      Tier = "raw"
	TierEmpty    Tier = "empty"
)

// Degraded reports whether the driver log did not follow the expected
// timestamped format.
func (t Tier) Degraded() bool {
	return t != TierStrict
}

var (
	strictErrorLine = regexp.MustCompile(`(?i)^(\d{1,2}/\d{1,2}/\d{4} \d{1,2}:\d{2}:\d{2} (?:AM|PM)) - ERROR:(.*)$`)
	errorMarker     = regexp.MustCompile(`(?i)ERROR:`)
)

const logMarker = "execution log"

// ParsedError is the structured form of an error artifact.
type ParsedError struct {
	OriginalCommand string
	Timestamp       string
	Message         string
	Raw             string
	Tier            Tier
}

// Decode extracts the driver's error message from the free-form content of
// an error artifact. The first line is the echoed command. After an
// "Execution Log" marker the first timestamped ERROR line wins; failing that
// any ERROR: fragments are joined, and failing that the remaining log text
// is used as is. Message is never empty.
func Decode(raw string) ParsedError {
	p := ParsedError{Raw: raw}

	lines := nonEmptyLines(raw)
	if len(lines) == 0 {
		p.Message = UnknownError
		p.Tier = TierEmpty
		return p
	}
	p.OriginalCommand = lines[0]

	marker := -1
	for i, l := range lines {
		if strings.Contains(strings.ToLower(l), logMarker) {
			marker = i
			break
		}
	}
	if marker < 0 {
		p.Message = strings.TrimSpace(raw)
		p.Tier = TierRaw
		return p
	}

	var fragments, rest []string
	for _, l := range lines[marker+1:] {
		if isSeparator(l) {
			continue
		}
		if m := strictErrorLine.FindStringSubmatch(l); m != nil {
			p.Timestamp = m[1]
			p.Message = orUnknown(strings.TrimSpace(m[2]))
			p.Tier = TierStrict
			return p
		}
		if loc := errorMarker.FindStringIndex(l); loc != nil {
			if frag := strings.TrimSpace(l[loc[1]:]); frag != "" {
				fragments = append(fragments, frag)
			}
		}
		rest = append(rest, l)
	}

	switch {
	case len(fragments) > 0:
		p.Message = strings.Join(fragments, "; ")
		p.Tier = TierFragment
	case len(rest) > 0:
		p.Message = strings.Join(rest, " ")
		p.Tier = TierTrailing
	default:
		p.Message = UnknownError
		p.Tier = TierEmpty
	}
	return p
}

// EchoMatches reports whether the command echoed by the driver corresponds
// to the expected command. The driver may echo only the line it failed on,
// so any single line of the expected command is accepted.
func EchoMatches(echoed, expected string) bool {
	echoed = strings.TrimSpace(echoed)
	if echoed == strings.TrimSpace(expected) {
		return true
	}
	for _, l := range strings.Split(expected, "\n") {
		if echoed == strings.TrimSpace(l) {
			return true
		}
	}
	return false
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func isSeparator(l string) bool {
	return strings.Trim(l, "-") == ""
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownError
	}
	return s
}
