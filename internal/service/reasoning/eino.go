package reasoning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"readable/internal/credential"
	"readable/internal/models"
)

const defaultClaudeMaxTokens = 4096

// EinoBackend reaches OpenAI-compatible and Claude endpoints through eino chat models.
// The thinking budget is not forwarded; only Gemini honours it.
type EinoBackend struct {
	provider  string
	creds     credential.Source
	baseURL   string
	maxTokens int

	mu    sync.Mutex
	key   string
	model string
	chat  model.BaseChatModel

	newModel func(ctx context.Context, provider, modelName, apiKey, baseURL string, maxTokens int) (model.BaseChatModel, error)
}

func NewEinoBackend(provider string, creds credential.Source, baseURL string, maxTokens int) *EinoBackend {
	return &EinoBackend{
		provider:  provider,
		creds:     creds,
		baseURL:   baseURL,
		maxTokens: maxTokens,
		newModel:  newEinoChatModel,
	}
}

func newEinoChatModel(ctx context.Context, provider, modelName, apiKey, baseURL string, maxTokens int) (model.BaseChatModel, error) {
	switch provider {
	case "openai":
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: baseURL,
			Model:   modelName,
			APIKey:  apiKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai chat model: %w", err)
		}
		return cm, nil
	case "claude":
		var baseURLPtr *string
		if baseURL != "" {
			baseURLPtr = &baseURL
		}
		if maxTokens <= 0 {
			maxTokens = defaultClaudeMaxTokens
		}
		cm, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create claude chat model: %w", err)
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

func (e *EinoBackend) chatModel(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	if e.creds == nil {
		return nil, credential.ErrMissing
	}
	key, err := e.creds.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chat != nil && e.key == key && e.model == modelName {
		return e.chat, nil
	}
	cm, err := e.newModel(ctx, e.provider, modelName, key, e.baseURL, e.maxTokens)
	if err != nil {
		return nil, err
	}
	e.key, e.model, e.chat = key, modelName, cm
	return cm, nil
}

func (e *EinoBackend) Generate(ctx context.Context, req *Request) (string, error) {
	cm, err := e.chatModel(ctx, req.Model)
	if err != nil {
		return "", err
	}
	resp, err := cm.Generate(ctx, toEinoMessages(req))
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

func toEinoMessages(req *Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.Blocks)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, schema.SystemMessage(req.SystemInstruction))
	}
	for _, block := range req.Blocks {
		role := schema.User
		if block.Role == models.RoleModel {
			role = schema.Assistant
		}
		msg := &schema.Message{Role: role}
		if len(block.Parts) == 1 && block.Parts[0].Inline == nil {
			msg.Content = block.Parts[0].Text
		} else {
			msg.MultiContent = toEinoParts(block.Parts)
		}
		messages = append(messages, msg)
	}
	return messages
}

func toEinoParts(parts []Part) []schema.ChatMessagePart {
	out := make([]schema.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		if p.Inline == nil {
			out = append(out, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: p.Text})
			continue
		}
		uri := "data:" + p.Inline.MediaType + ";base64," + base64.StdEncoding.EncodeToString(p.Inline.Data)
		if strings.HasPrefix(p.Inline.MediaType, "image/") {
			out = append(out, schema.ChatMessagePart{
				Type:     schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{URL: uri, MIMEType: p.Inline.MediaType},
			})
			continue
		}
		out = append(out, schema.ChatMessagePart{
			Type:    schema.ChatMessagePartTypeFileURL,
			FileURL: &schema.ChatMessageFileURL{URL: uri, MIMEType: p.Inline.MediaType, Name: p.Inline.Name},
		})
	}
	return out
}
