// Package statementmeta classifies statements as political or personal and
// extracts scored ideologies, personality traits and topic tags.
package statementmeta

import (
	"fmt"
	"strings"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/parser"
	"github.com/propolis-ai/annotator/pkg/prompt"
)

const (
	Name    = "statement_meta"
	Version = 1

	columns = 8
)

// Kind is the category assigned to a statement.
type Kind string

const (
	KindPolitics    Kind = "politics"
	KindPersonal    Kind = "personal"
	KindUnparseable Kind = "unparseable"
)

// Score weights a value.
type Score string

const (
	ScoreStrong  Score = "strong"
	ScoreWeak    Score = "weak"
	ScoreUnknown Score = "unknown"
)

// ScoredValue is a value with its weight. Raw holds the original score
// marker when it was not recognized.
type ScoredValue struct {
	Value string `json:"value"`
	Score Score  `json:"score"`
	Raw   string `json:"raw,omitempty"`
}

// Meta is the classification of one statement.
type Meta struct {
	Kind       Kind          `json:"kind"`
	Tags       []ScoredValue `json:"tags,omitempty"`
	Ideologies []ScoredValue `json:"ideologies,omitempty"`
	BFPTraits  []ScoredValue `json:"bfp_traits,omitempty"`
	Raw        string        `json:"raw,omitempty"`
}

// Template is the batch prompt.
var Template = prompt.Template[Meta]{
	Name:    Name,
	Version: Version,
	Build:   Primer,
	Handle:  Handle,
}

const instructions = `Classify each statement. Answer with one line per statement and nothing else:
id|category|v1|v2|v3|tag1|tag2|tag3
category is politics or personal.
For politics, v1..v3 are ideologies. For personal, v1..v3 are big five personality traits.
tag1..tag3 are short topic tags.
Suffix every value with :s when it applies strongly or :w when it applies weakly.`

// Primer builds the messages for items: instructions, one worked example,
// then the statements as "id|text" lines.
func Primer(items []models.Item) []models.Message {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%d|%s\n", it.ID, flatten(it.Text))
	}
	return []models.Message{
		models.System(instructions),
		models.User("1|Borders must be controlled more strictly.\n2|I enjoy trying new foods."),
		models.Assistant("1|politics|conservatism:s|nationalism:s|law and order:w|immigration:s|border security:s|sovereignty:w\n" +
			"2|personal|openness to experience:s|extraversion:w|agreeableness:w|food:s|curiosity:w|lifestyle:w"),
		models.User(strings.TrimRight(b.String(), "\n")),
	}
}

// Handle parses content into one Meta per item, in item order.
func Handle(content string, items []models.Item) ([]Meta, error) {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	rows, err := parser.Parse(content, parser.Options{Columns: columns, IDs: ids})
	if err != nil {
		return nil, err
	}
	out := make([]Meta, len(rows))
	for i, row := range rows {
		out[i] = FromRow(row)
	}
	return out, nil
}

// FromRow converts one 8-column row. Unknown categories yield KindUnparseable
// with the raw row kept.
func FromRow(row parser.Row) Meta {
	if len(row) != columns {
		return Meta{Kind: KindUnparseable, Raw: strings.Join(row, "|")}
	}
	values := scoredValues(row[2:5])
	tags := scoredValues(row[5:8])
	switch Kind(strings.ToLower(row[1])) {
	case KindPolitics:
		return Meta{Kind: KindPolitics, Ideologies: values, Tags: tags}
	case KindPersonal:
		return Meta{Kind: KindPersonal, BFPTraits: values, Tags: tags}
	default:
		return Meta{Kind: KindUnparseable, Raw: strings.Join(row, "|")}
	}
}

// ParseScoredValue splits "value:marker" at the last colon. A value without
// marker gets ScoreUnknown. Empty input reports false.
func ParseScoredValue(s string) (ScoredValue, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ScoredValue{}, false
	}
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return ScoredValue{Value: s, Score: ScoreUnknown}, true
	}
	v := ScoredValue{Value: strings.TrimSpace(s[:i])}
	switch marker := strings.TrimSpace(s[i+1:]); marker {
	case "s":
		v.Score = ScoreStrong
	case "w":
		v.Score = ScoreWeak
	default:
		v.Score = ScoreUnknown
		v.Raw = marker
	}
	return v, true
}

func scoredValues(cells []string) []ScoredValue {
	var out []ScoredValue
	for _, c := range cells {
		if v, ok := ParseScoredValue(c); ok {
			out = append(out, v)
		}
	}
	return out
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	return strings.Join(strings.Fields(s), " ")
}
