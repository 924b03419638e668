package prompt

import (
	"strings"
	"testing"

	"github.com/propolis-ai/annotator/pkg/models"
)

var upper = Template[string]{
	Name:    "upper",
	Version: 2,
	Build: func(items []models.Item) []models.Message {
		var texts []string
		for _, it := range items {
			texts = append(texts, it.Text)
		}
		return []models.Message{models.System("shout"), models.User(strings.Join(texts, "\n"))}
	},
	Handle: func(content string, items []models.Item) ([]string, error) {
		return strings.Split(content, "\n"), nil
	},
}

func TestBatchImplementsPrompt(t *testing.T) {
	b := upper.For([]models.Item{{ID: 5, Text: "a"}, {ID: 6, Text: "b"}})

	var p Prompt[[]string] = b
	if got := Identity(p); got != (models.PromptIdentity{Name: "upper", Version: 2}) {
		t.Errorf("unexpected identity %v", got)
	}
	if got := p.Primer(); len(got) != 2 || got[1].Content != "a\nb" {
		t.Errorf("unexpected primer %+v", got)
	}
	res, err := p.HandleResponse(models.InvocationResult{Content: "A\nB"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0] != "A" {
		t.Errorf("unexpected result %v", res)
	}
	if ids := b.ItemIDs(); ids[0] != 5 || ids[1] != 6 {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestPrimerReturnsCopy(t *testing.T) {
	b := upper.For([]models.Item{{ID: 1, Text: "x"}})
	p := b.Primer()
	p[0].Content = "changed"
	if b.Primer()[0].Content != "shout" {
		t.Error("mutating the returned primer must not affect the batch")
	}
}
