// Package provider defines the port over a remote model provider.
package provider

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/propolis-ai/annotator/pkg/models"
)

var (
	// ErrProvider marks transport, auth and decoding failures. Never retried here.
	ErrProvider = errors.New("provider error")
	// ErrEmptyResult means the provider returned no choices or results where at
	// least one was expected.
	ErrEmptyResult = errors.New("provider returned empty result")
)

// Verdict is the outcome of a moderation call.
type Verdict struct {
	Flagged    bool
	Categories []models.FlagCategory
}

// FlaggedCategories returns only the categories that were raised.
func (v Verdict) FlaggedCategories() []models.FlagCategory {
	var out []models.FlagCategory
	for _, c := range v.Categories {
		if c.Value {
			out = append(out, c)
		}
	}
	return out
}

// Embeddings holds one vector per input text, in input order, plus the
// aggregate usage reported for the whole call.
type Embeddings struct {
	Vectors      [][]float64
	PromptTokens int64
	TotalTokens  int64
}

// Env is one remote model provider bound to a single credential.
type Env interface {
	// Info describes the backend. It has no side effects.
	Info() models.EnvironmentDescriptor
	// Moderate classifies text with the moderation model.
	Moderate(ctx context.Context, text string) (Verdict, error)
	// Complete sends the primer verbatim and returns the first choice.
	Complete(ctx context.Context, id models.PromptIdentity, primer []models.Message) (models.InvocationResult, error)
	// Embed returns one vector per text, order preserved.
	Embed(ctx context.Context, texts []string) (Embeddings, error)
}

// Wrap marks err as a provider failure.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrProvider)
}
