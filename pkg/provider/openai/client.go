// Package openai implements provider.Env against an OpenAI-compatible API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/provider"
)

// ProviderName is reported in EnvironmentDescriptor.Provider.
const ProviderName = "openai"

const (
	chatPath       = "/v1/chat/completions"
	moderationPath = "/v1/moderations"
	embeddingsPath = "/v1/embeddings"
)

// Config is the immutable configuration of one Client. The API key is bound
// here at construction and never read from the process environment.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	ModerationModel string
	EmbeddingModel  string
	Temperature     *float64
	Timeout         time.Duration
}

// Client talks to one OpenAI-compatible endpoint with one credential.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
}

var _ provider.Env = (*Client)(nil)

// New validates cfg and returns a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("openai: invalid base url %q", cfg.BaseURL)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, base: base, http: httpClient}, nil
}

// Info implements provider.Env.
func (c *Client) Info() models.EnvironmentDescriptor {
	return models.EnvironmentDescriptor{
		Provider:        ProviderName,
		Model:           c.cfg.Model,
		ModerationModel: c.cfg.ModerationModel,
	}
}

// Moderate implements provider.Env. Zero results is ErrEmptyResult, never clean.
func (c *Client) Moderate(ctx context.Context, text string) (provider.Verdict, error) {
	var resp models.ModerationResponse
	req := models.ModerationRequest{Model: c.cfg.ModerationModel, Input: text}
	if err := c.post(ctx, moderationPath, req, &resp); err != nil {
		return provider.Verdict{}, err
	}
	if len(resp.Results) == 0 {
		return provider.Verdict{}, errors.Wrap(provider.ErrEmptyResult, "moderation")
	}

	res := resp.Results[0]
	names := make([]string, 0, len(res.Categories))
	for name := range res.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	v := provider.Verdict{Flagged: res.Flagged}
	for _, name := range names {
		v.Categories = append(v.Categories, models.FlagCategory{Name: name, Value: res.Categories[name]})
	}
	return v, nil
}

// Complete implements provider.Env.
func (c *Client) Complete(ctx context.Context, id models.PromptIdentity, primer []models.Message) (models.InvocationResult, error) {
	msgs := make([]models.ChatMessage, len(primer))
	for i, m := range primer {
		msgs[i] = models.ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	req := models.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
	}

	var resp models.ChatCompletionResponse
	if err := c.post(ctx, chatPath, req, &resp); err != nil {
		return models.InvocationResult{}, err
	}
	if len(resp.Choices) == 0 {
		return models.InvocationResult{}, errors.Wrapf(provider.ErrEmptyResult, "completion for %s", id)
	}

	out := models.InvocationResult{
		Environment: c.Info(),
		Identity:    id,
		Content:     resp.Choices[0].Message.Content,
	}
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.PromptTokens
		out.CompletionTokens = resp.Usage.CompletionTokens
		out.TotalTokens = resp.Usage.TotalTokens
	}
	return out, nil
}

// Embed implements provider.Env. Vectors are reordered by their reported index.
func (c *Client) Embed(ctx context.Context, texts []string) (provider.Embeddings, error) {
	if len(texts) == 0 {
		return provider.Embeddings{}, nil
	}
	var resp models.EmbeddingResponse
	req := models.EmbeddingRequest{Model: c.cfg.EmbeddingModel, Input: texts}
	if err := c.post(ctx, embeddingsPath, req, &resp); err != nil {
		return provider.Embeddings{}, err
	}
	if len(resp.Data) == 0 {
		return provider.Embeddings{}, errors.Wrap(provider.ErrEmptyResult, "embeddings")
	}
	if len(resp.Data) != len(texts) {
		return provider.Embeddings{}, errors.Mark(
			errors.Newf("embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts)),
			provider.ErrProvider)
	}

	out := provider.Embeddings{Vectors: make([][]float64, len(texts))}
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out.Vectors[d.Index] != nil {
			return provider.Embeddings{}, errors.Mark(
				errors.Newf("embeddings: bad index %d", d.Index), provider.ErrProvider)
		}
		out.Vectors[d.Index] = d.Embedding
	}
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.PromptTokens
		out.TotalTokens = resp.Usage.TotalTokens
	}
	return out, nil
}

// post sends body as JSON to path and decodes a 200 response into out.
// Every failure is marked provider.ErrProvider.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, bytes.NewReader(payload))
	if err != nil {
		return provider.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return provider.Wrap(err, "upstream request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr models.APIError
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != nil {
			msg = apiErr.Error.Message
		}
		return errors.Mark(errors.Newf("%s returned %d: %s", path, resp.StatusCode, msg), provider.ErrProvider)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return provider.Wrap(err, "decode response")
	}
	return nil
}
