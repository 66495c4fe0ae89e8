// Package search filters, fuzzy-searches and sorts loaded conversations.
// Every function is pure: inputs are never mutated.
package search

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/tOgg1/threadline/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Defaults for the fuzzy matcher.
const (
	DefaultThreshold      = 0.4
	DefaultMinQueryLength = 2
)

// Engine holds fuzzy-matching parameters.
type Engine struct {
	// Threshold is the max edit distance between a query token and a field
	// token, as a fraction of the longer token.
	Threshold float64

	// MinQueryLength is the shortest trimmed query that narrows the list.
	MinQueryLength int
}

// DefaultEngine returns an Engine with the default tolerance.
func DefaultEngine() Engine {
	return Engine{Threshold: DefaultThreshold, MinQueryLength: DefaultMinQueryLength}
}

// Search runs DefaultEngine().Search.
func Search(conversations []models.Conversation, query string) []models.Conversation {
	return DefaultEngine().Search(conversations, query)
}

// Run applies filter's predicates, then its search text.
func (e Engine) Run(conversations []models.Conversation, filter models.Filter) []models.Conversation {
	return e.Search(Apply(conversations, filter), filter.SearchText)
}

// Search returns the conversations whose project name, partner name or last
// message fuzzily match query, in input order. Queries shorter than
// MinQueryLength return the input unchanged.
func (e Engine) Search(conversations []models.Conversation, query string) []models.Conversation {
	query = strings.TrimSpace(query)
	if query == "" || len([]rune(query)) < e.MinQueryLength {
		return conversations
	}

	queryTokens := tokenize(fold(query))
	if len(queryTokens) == 0 {
		return conversations
	}

	matched := make([]models.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if e.matches(queryTokens, conv) {
			matched = append(matched, conv)
		}
	}
	return matched
}

// Matches reports whether conv matches query under e.
func (e Engine) Matches(conv models.Conversation, query string) bool {
	return len(e.Search([]models.Conversation{conv}, query)) == 1
}

func (e Engine) matches(queryTokens []string, conv models.Conversation) bool {
	fieldTokens := tokenize(fold(conv.ProjectName + " " + conv.PartnerName + " " + conv.LastMessage))
	for _, qt := range queryTokens {
		if !e.tokenMatches(qt, fieldTokens) {
			return false
		}
	}
	return true
}

func (e Engine) tokenMatches(queryToken string, fieldTokens []string) bool {
	for _, ft := range fieldTokens {
		if strings.Contains(ft, queryToken) {
			return true
		}
		if e.withinThreshold(queryToken, ft) {
			return true
		}
	}
	return false
}

func (e Engine) withinThreshold(a, b string) bool {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return false
	}
	distance := fuzzy.LevenshteinDistance(a, b)
	return float64(distance)/float64(longest) <= e.Threshold
}

// fold lower-cases s and strips diacritics ("Élodie" -> "elodie").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
