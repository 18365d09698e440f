package console

import (
	"fmt"
	"regexp"
	"strings"
)

// OutputFilter selects console lines for the status server's /console view
type OutputFilter struct {
	FilterType    string // "none", "errors", "search", "regex"
	Pattern       string
	CaseSensitive bool
	regex         *regexp.Regexp
}

var errorKeywords = []string{
	"error",
	"exception",
	"fatal",
	"warning",
	"warn",
	"failed",
	"failure",
	"critical",
	"panic",
	"stack trace",
	"traceback",
}

// NewOutputFilter creates a new output filter. An empty type means "none".
func NewOutputFilter(filterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	filterType = strings.ToLower(strings.TrimSpace(filterType))
	if filterType == "" {
		filterType = "none"
	}

	filter := &OutputFilter{
		FilterType:    filterType,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	switch filterType {
	case "none", "errors", "search":
	case "regex":
		if pattern != "" {
			flags := ""
			if !caseSensitive {
				flags = "(?i)"
			}
			compiled, err := regexp.Compile(flags + pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			filter.regex = compiled
		}
	default:
		return nil, fmt.Errorf("unknown filter type %q", filterType)
	}

	return filter, nil
}

// Match reports whether a line passes the filter
func (f *OutputFilter) Match(line string) bool {
	switch f.FilterType {
	case "errors":
		lower := strings.ToLower(line)
		for _, keyword := range errorKeywords {
			if strings.Contains(lower, keyword) {
				return true
			}
		}
		return false

	case "search":
		if f.Pattern == "" {
			return true
		}
		if f.CaseSensitive {
			return strings.Contains(line, f.Pattern)
		}
		return strings.Contains(strings.ToLower(line), strings.ToLower(f.Pattern))

	case "regex":
		if f.regex == nil {
			return true
		}
		return f.regex.MatchString(line)

	default:
		return true
	}
}

// FilterLines applies the filter to multiple lines
func (f *OutputFilter) FilterLines(lines []string) []string {
	if f.FilterType == "none" {
		return lines
	}

	filtered := []string{}
	for _, line := range lines {
		if f.Match(line) {
			filtered = append(filtered, line)
		}
	}
	return filtered
}
