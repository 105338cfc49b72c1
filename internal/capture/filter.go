package capture

import (
	"fmt"
	"regexp"
)

// Default pattern sets. Callers supply PDP-style or search-style patterns to
// a session; the block set feeds the circuit breaker's frame-navigated check.
var (
	DefaultPDPPatterns    = []string{`/api/v4/pdp/get_pc`}
	DefaultSearchPatterns = []string{`/api/v4/search/search_items`}
	DefaultBlockPatterns  = []string{`/verify/`, `captcha`, `/account/login`, `anti_fraud`}
)

// Filter matches candidate URLs against an ordered set of regular
// expressions. Patterns are independent; an empty filter never matches.
type Filter struct {
	patterns []*regexp.Regexp
}

// NewFilter compiles the given patterns. An invalid pattern is a
// construction error, not a silent skip.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("filter pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// MustFilter is NewFilter for the built-in pattern sets.
func MustFilter(patterns []string) *Filter {
	f, err := NewFilter(patterns)
	if err != nil {
		panic(err)
	}
	return f
}

// Match reports whether any pattern matches anywhere in url.
func (f *Filter) Match(url string) bool {
	for _, re := range f.patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
