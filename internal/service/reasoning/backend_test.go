package reasoning

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"readable/internal/config"
	"readable/internal/credential"
	"readable/internal/models"
)

func TestGeminiBackendAgainstServer(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(raw)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"100"}]}}]}`)
	}))
	defer srv.Close()

	t.Setenv("READABLE_TEST_KEY", "test-key")
	backend := NewGeminiBackend(credential.EnvSource{Name: "READABLE_TEST_KEY"}, srv.URL)
	client := NewClient(backend, Options{ThinkingBudget: 1024})
	att := &models.Attachment{Name: "notes.txt", MediaType: "text/plain", Payload: "Revenue: 100"}

	answer, err := client.Complete(context.Background(), "What is the revenue?", nil, att)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if answer != "100" {
		t.Fatalf("unexpected answer %q", answer)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(body, "Revenue: 100") || !strings.Contains(body, "ReadAble") {
		t.Fatalf("request body missing context or instruction: %s", body)
	}
}

func TestGeminiBackendQuotaResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	t.Setenv("READABLE_TEST_KEY", "test-key")
	client := NewClient(NewGeminiBackend(credential.EnvSource{Name: "READABLE_TEST_KEY"}, srv.URL), Options{})
	_, err := client.Complete(context.Background(), "q", nil, nil)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestGeminiBackendMissingCredential(t *testing.T) {
	t.Setenv("READABLE_TEST_KEY", "")
	client := NewClient(NewGeminiBackend(credential.EnvSource{Name: "READABLE_TEST_KEY"}, ""), Options{})
	_, err := client.Complete(context.Background(), "q", nil, nil)
	if !errors.Is(err, ErrMissingCredential) || !errors.Is(err, credential.ErrMissing) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestGeminiBackendUnusableCredential(t *testing.T) {
	t.Setenv(credential.SecretKeyEnv, "")
	t.Setenv("READABLE_TEST_KEY", "")
	creds := credential.FromConfig(config.ReasoningConfig{SealedAPIKey: "abc", APIKeyEnv: "READABLE_TEST_KEY"})
	client := NewClient(NewGeminiBackend(creds, ""), Options{})
	_, err := client.Complete(context.Background(), "q", nil, nil)
	if !errors.Is(err, ErrMissingCredential) || !errors.Is(err, credential.ErrUnusable) {
		t.Fatalf("expected config failure, got %v", err)
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != KindConfig || rerr.Message != UnusableCredentialMessage {
		t.Fatalf("unexpected error %v", err)
	}
	if strings.Contains(rerr.Message, credential.SecretKeyEnv) {
		t.Fatalf("internal detail leaked to user message: %q", rerr.Message)
	}
}

func TestNewHonorsZeroThinkingBudget(t *testing.T) {
	zero := int32(0)
	client, err := New(config.ReasoningConfig{Provider: "gemini", Model: "m", ThinkingBudget: &zero}, 0, credential.EnvSource{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	req, err := client.BuildRequest("q", nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.ThinkingBudget != 0 {
		t.Fatalf("expected thinking disabled, got %d", req.ThinkingBudget)
	}
}

type stubGenerator struct{}

func (stubGenerator) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return &genai.GenerateContentResponse{}, nil
}

func TestGeminiBackendRebuildsClientOnKeyChange(t *testing.T) {
	t.Setenv("READABLE_TEST_KEY", "first")
	backend := NewGeminiBackend(credential.EnvSource{Name: "READABLE_TEST_KEY"}, "")
	var keys []string
	backend.newGenerator = func(_ context.Context, apiKey, _ string) (contentGenerator, error) {
		keys = append(keys, apiKey)
		return stubGenerator{}, nil
	}

	req := &Request{Model: "m", Blocks: []Block{{Role: models.RoleUser, Parts: []Part{{Text: "q"}}}}}
	for i := 0; i < 2; i++ {
		if _, err := backend.Generate(context.Background(), req); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
	t.Setenv("READABLE_TEST_KEY", "second")
	if _, err := backend.Generate(context.Background(), req); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(keys) != 2 || keys[0] != "first" || keys[1] != "second" {
		t.Fatalf("unexpected client rebuilds: %v", keys)
	}
}

func TestToGenAIContentsRoles(t *testing.T) {
	contents := toGenAIContents([]Block{
		{Role: models.RoleUser, Parts: []Part{{Text: "a"}}},
		{Role: models.RoleModel, Parts: []Part{{Text: "b"}}},
		{Role: models.RoleUser, Parts: []Part{{Inline: &Inline{MediaType: "image/png", Data: []byte{1, 2}}}, {Text: "c"}}},
	})
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Fatalf("unexpected roles: %s %s", contents[0].Role, contents[1].Role)
	}
	last := contents[2]
	if len(last.Parts) != 2 || last.Parts[0].InlineData == nil || last.Parts[0].InlineData.MIMEType != "image/png" {
		t.Fatalf("inline part not mapped: %+v", last.Parts)
	}
}

type fakeChatModel struct {
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return schema.AssistantMessage("from eino", nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func TestEinoBackendMapsBlocks(t *testing.T) {
	t.Setenv("READABLE_TEST_KEY", "k")
	fake := &fakeChatModel{}
	backend := NewEinoBackend("openai", credential.EnvSource{Name: "READABLE_TEST_KEY"}, "", 0)
	backend.newModel = func(context.Context, string, string, string, string, int) (model.BaseChatModel, error) {
		return fake, nil
	}
	client := NewClient(backend, Options{Provider: "openai", Model: "gpt-4o"})
	att := &models.Attachment{Name: "chart.png", MediaType: "image/png", Payload: "data:image/png;base64,AQI=", IsBinary: true}
	history := []models.Turn{{Role: models.RoleModel, Content: "ready"}}

	answer, err := client.Complete(context.Background(), "describe", history, att)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if answer != "from eino" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if len(fake.input) != 3 {
		t.Fatalf("expected system, history and final messages, got %d", len(fake.input))
	}
	if fake.input[0].Role != schema.System || fake.input[1].Role != schema.Assistant {
		t.Fatalf("unexpected roles: %s %s", fake.input[0].Role, fake.input[1].Role)
	}
	parts := fake.input[2].MultiContent
	if len(parts) != 2 || parts[0].Type != schema.ChatMessagePartTypeImageURL {
		t.Fatalf("expected image part first, got %+v", parts)
	}
	if parts[0].ImageURL.URL != "data:image/png;base64,AQI=" {
		t.Fatalf("data uri not rebuilt: %s", parts[0].ImageURL.URL)
	}
}
