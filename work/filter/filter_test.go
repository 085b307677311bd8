package filter

import (
	"testing"

	"prism-server/work/config"
	"prism-server/work/parser"

	"github.com/stretchr/testify/assert"
)

func entries() []parser.Entry {
	return []parser.Entry{
		{Name: "News 24", GroupTitle: "US News"},
		{Name: "Sports One", GroupTitle: "Sports"},
		{Name: "Adult Time", GroupTitle: "XXX"},
		{Name: "Movie Night", GroupTitle: "Movies"},
	}
}

func TestApplyNoFiltersPassesThrough(t *testing.T) {
	f := New(&config.Config{})

	assert.Len(t, f.Apply(entries()), 4)
}

func TestApplyKeywordsAreCaseInsensitiveSubstrings(t *testing.T) {
	f := New(&config.Config{FilterKeywords: []string{"news", "MOVIE"}})

	filtered := f.Apply(entries())
	assert.Len(t, filtered, 2)
	assert.Equal(t, "News 24", filtered[0].Name)
	assert.Equal(t, "Movie Night", filtered[1].Name)
}

func TestApplyExcludeExprMatchesNameAndGroup(t *testing.T) {
	f := New(&config.Config{FilterExcludeExpr: `(?i)xxx|adult`})

	filtered := f.Apply(entries())
	assert.Len(t, filtered, 3)
	for _, entry := range filtered {
		assert.NotEqual(t, "Adult Time", entry.Name)
	}
}

func TestInvalidExcludeExprIsIgnored(t *testing.T) {
	f := New(&config.Config{FilterExcludeExpr: `([`})

	assert.Len(t, f.Apply(entries()), 4)
}
