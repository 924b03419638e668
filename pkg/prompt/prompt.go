// Package prompt defines prompt templates that run against a provider.Env.
package prompt

import (
	"github.com/propolis-ai/annotator/pkg/models"
)

// Prompt is a template producing a result of type R. R must be serializable
// so it can be stored with the prediction.
type Prompt[R any] interface {
	Name() string
	Version() uint16
	// Primer returns the messages to send, in order. Must be deterministic.
	Primer() []models.Message
	// HandleResponse converts the raw provider reply. It must not touch
	// external state.
	HandleResponse(res models.InvocationResult) (R, error)
}

// Identity returns the cache key of p.
func Identity[R any](p Prompt[R]) models.PromptIdentity {
	return models.PromptIdentity{Name: p.Name(), Version: p.Version()}
}

// Template describes a prompt that covers several items in one request.
// Build produces the Batch for a concrete selection of items.
type Template[R any] struct {
	Name    string
	Version uint16
	// Build assembles the primer for items.
	Build func(items []models.Item) []models.Message
	// Handle parses the raw reply into one result per item, in item order.
	Handle func(content string, items []models.Item) ([]R, error)
}

// Identity returns the cache key of the template.
func (t Template[R]) Identity() models.PromptIdentity {
	return models.PromptIdentity{Name: t.Name, Version: t.Version}
}

// For binds the template to items.
func (t Template[R]) For(items []models.Item) *Batch[R] {
	return &Batch[R]{tmpl: t, Items: items, primer: t.Build(items)}
}

// Batch is a Template bound to a selection of items. It implements
// Prompt[[]R].
type Batch[R any] struct {
	tmpl   Template[R]
	primer []models.Message
	Items  []models.Item
}

var _ Prompt[[]string] = (*Batch[string])(nil)

func (b *Batch[R]) Name() string    { return b.tmpl.Name }
func (b *Batch[R]) Version() uint16 { return b.tmpl.Version }

// Primer returns a copy of the bound primer.
func (b *Batch[R]) Primer() []models.Message {
	out := make([]models.Message, len(b.primer))
	copy(out, b.primer)
	return out
}

// HandleResponse parses the reply into exactly one result per item.
func (b *Batch[R]) HandleResponse(res models.InvocationResult) ([]R, error) {
	return b.tmpl.Handle(res.Content, b.Items)
}

// ItemIDs returns the ids of the bound items in order.
func (b *Batch[R]) ItemIDs() []int64 {
	ids := make([]int64, len(b.Items))
	for i, it := range b.Items {
		ids[i] = it.ID
	}
	return ids
}
