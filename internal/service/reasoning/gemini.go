package reasoning

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"readable/internal/credential"
	"readable/internal/models"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiBackend calls the Gemini API through the genai SDK.
// The SDK client is rebuilt only when the resolved API key changes.
type GeminiBackend struct {
	creds   credential.Source
	baseURL string

	mu        sync.Mutex
	key       string
	generator contentGenerator

	newGenerator func(ctx context.Context, apiKey, baseURL string) (contentGenerator, error)
}

func NewGeminiBackend(creds credential.Source, baseURL string) *GeminiBackend {
	return &GeminiBackend{
		creds:        creds,
		baseURL:      baseURL,
		newGenerator: newGenAIGenerator,
	}
}

func newGenAIGenerator(ctx context.Context, apiKey, baseURL string) (contentGenerator, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client.Models, nil
}

func (g *GeminiBackend) client(ctx context.Context) (contentGenerator, error) {
	if g.creds == nil {
		return nil, credential.ErrMissing
	}
	key, err := g.creds.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generator != nil && g.key == key {
		return g.generator, nil
	}
	gen, err := g.newGenerator(ctx, key, g.baseURL)
	if err != nil {
		return nil, err
	}
	g.key = key
	g.generator = gen
	return gen, nil
}

func (g *GeminiBackend) Generate(ctx context.Context, req *Request) (string, error) {
	gen, err := g.client(ctx)
	if err != nil {
		return "", err
	}

	budget := req.ThinkingBudget
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: &budget},
	}
	resp, err := gen.GenerateContent(ctx, req.Model, toGenAIContents(req.Blocks), cfg)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func toGenAIContents(blocks []Block) []*genai.Content {
	contents := make([]*genai.Content, 0, len(blocks))
	for _, block := range blocks {
		role := string(genai.RoleUser)
		if block.Role == models.RoleModel {
			role = string(genai.RoleModel)
		}
		parts := make([]*genai.Part, 0, len(block.Parts))
		for _, p := range block.Parts {
			if p.Inline != nil {
				parts = append(parts, genai.NewPartFromBytes(p.Inline.Data, p.Inline.MediaType))
				continue
			}
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}
