package classify

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/config"
)

// Uncategorized is the sentinel label returned when no category qualifies.
const Uncategorized = "Uncategorized"

// precompiled normalization patterns
var (
	newlinesRe = regexp.MustCompile(`[\n\r\t]+`)
	urlRe      = regexp.MustCompile(`https?://\S+`)
	punctRe    = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

type keyword struct {
	re     *regexp.Regexp
	weight int
}

type category struct {
	name      string
	keywords  []keyword
	exclude   []*regexp.Regexp
	threshold int
}

// Classifier assigns a category label to article text using weighted keyword
// scoring. The rule set is compiled once at construction and immutable after
// that; Classify is a pure function of the normalized text.
type Classifier struct {
	categories []category
	stripTags  *bluemonday.Policy
}

// New compiles the configured category rules into a Classifier.
// All patterns are matched case-insensitively against normalized text.
func New(rules []config.CategoryRule) (*Classifier, error) {
	cats := make([]category, 0, len(rules))
	for _, rule := range rules {
		cat := category{name: rule.Name, threshold: rule.Threshold}
		for _, kw := range rule.Keywords {
			re, err := regexp.Compile("(?i)" + kw.Pattern)
			if err != nil {
				return nil, fmt.Errorf("category %s: compile keyword %q: %w", rule.Name, kw.Pattern, err)
			}
			cat.keywords = append(cat.keywords, keyword{re: re, weight: kw.Weight})
		}
		for _, excl := range rule.Exclude {
			re, err := regexp.Compile("(?i)" + excl)
			if err != nil {
				return nil, fmt.Errorf("category %s: compile exclude %q: %w", rule.Name, excl, err)
			}
			cat.exclude = append(cat.exclude, re)
		}
		cats = append(cats, cat)
	}

	return &Classifier{categories: cats, stripTags: bluemonday.StrictPolicy()}, nil
}

// Categories returns the category labels in declared order, the same order
// used to break score ties.
func (c *Classifier) Categories() []string {
	names := make([]string, 0, len(c.categories))
	for _, cat := range c.categories {
		names = append(names, cat.name)
	}
	return names
}

// Classify returns the category label for the given text, or Uncategorized.
// A category is disqualified outright if any of its exclusion patterns
// matches, regardless of keyword score. Each keyword pattern contributes its
// weight once no matter how many times it matches. A category qualifies when
// its summed score reaches its threshold; the strictly highest score wins,
// and on a tie the category declared first wins.
func (c *Classifier) Classify(text string) string {
	clean := c.Normalize(text)
	if clean == "" {
		return Uncategorized
	}

	best := Uncategorized
	bestScore := 0

	for _, cat := range c.categories {
		if matchesAny(cat.exclude, clean) {
			continue
		}

		score := 0
		for _, kw := range cat.keywords {
			if kw.re.MatchString(clean) {
				score += kw.weight
			}
		}

		if score >= cat.threshold && score > bestScore {
			best = cat.name
			bestScore = score
		}
	}

	return best
}

// Normalize collapses line breaks, strips markup, URLs and punctuation,
// squeezes whitespace and lowercases. An empty result means the text carries
// no classifiable signal.
func (c *Classifier) Normalize(text string) string {
	clean := newlinesRe.ReplaceAllString(text, " ")
	clean = c.stripTags.Sanitize(clean)
	clean = html.UnescapeString(clean) // sanitizer entity-escapes the surviving text
	clean = urlRe.ReplaceAllString(clean, " ")
	clean = punctRe.ReplaceAllString(clean, " ")
	clean = spacesRe.ReplaceAllString(clean, " ")
	return strings.ToLower(strings.TrimSpace(clean))
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
