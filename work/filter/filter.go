package filter

import (
	"strings"

	"prism-server/work/config"
	"prism-server/work/logger"
	"prism-server/work/parser"

	"github.com/grafana/regexp"
)

// Filter decides which playlist entries make it into the catalog. Keyword
// filtering is a case-insensitive substring match against the channel name;
// the exclude expression is a regex tested against name and group. A channel
// must pass both gates.
type Filter struct {
	keywords []string
	exclude  *regexp.Regexp
}

// New compiles a filter from the configured keyword list and exclude
// expression. An invalid exclude expression is logged and treated as no
// filter rather than failing startup.
func New(cfg *config.Config) *Filter {
	f := &Filter{}

	for _, kw := range cfg.FilterKeywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw != "" {
			f.keywords = append(f.keywords, kw)
		}
	}

	if cfg.FilterExcludeExpr != "" {
		compiled, err := regexp.Compile(cfg.FilterExcludeExpr)
		if err != nil {
			logger.Error("{filter - New} Failed to compile exclude expression '%s': %v", cfg.FilterExcludeExpr, err)
		} else {
			f.exclude = compiled
		}
	}

	return f
}

// Apply returns the entries that pass the filter, preserving order.
func (f *Filter) Apply(entries []parser.Entry) []parser.Entry {
	if len(f.keywords) == 0 && f.exclude == nil {
		return entries
	}

	filtered := make([]parser.Entry, 0, len(entries))
	for _, entry := range entries {
		if f.Match(entry) {
			filtered = append(filtered, entry)
		}
	}

	logger.Debug("{filter - Apply} Filtered %d -> %d entries", len(entries), len(filtered))
	return filtered
}

// Match reports whether a single entry passes the filter.
func (f *Filter) Match(entry parser.Entry) bool {
	if len(f.keywords) > 0 {
		name := strings.ToLower(entry.Name)
		matched := false
		for _, kw := range f.keywords {
			if strings.Contains(name, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.exclude != nil {
		if f.exclude.MatchString(entry.Name) || f.exclude.MatchString(entry.GroupTitle) {
			return false
		}
	}

	return true
}
