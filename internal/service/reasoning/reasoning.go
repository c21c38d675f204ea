package reasoning

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"readable/internal/config"
	"readable/internal/conversation"
	"readable/internal/credential"
	"readable/internal/models"
	"readable/internal/telemetry"
)

const (
	SystemInstruction = "You are ReadAble, a specialized document reasoning agent. " +
		"When a user asks a question about a file, your job is to provide a direct, evidence-based answer. " +
		"NEVER repeat a general summary of the file if the user is asking a specific question. " +
		"Use your reasoning tokens to analyze the document structure and find the exact information requested."

	// FallbackAnswer is returned when the service answers without any text.
	FallbackAnswer = "I'm sorry, I couldn't process that request."

	textPromptFormat = "CONTEXT FILE [Name: %s]:\n\n%s\n\nUSER QUESTION: %s\n\n" +
		"Task: Answer the USER QUESTION using the CONTEXT FILE. Be specific. " +
		"Do not provide a general summary of the file unless asked."

	binaryPromptFormat = "The attached file is %q. Solve this specific user request using the file context: %q. " +
		"DO NOT summarize the whole file again. Answer only the question asked."
)

// Request is a provider neutral completion request.
type Request struct {
	Model             string
	SystemInstruction string
	ThinkingBudget    int32
	Blocks            []Block
}

// Block is one role-tagged content entry of the dialogue.
type Block struct {
	Role  models.Role
	Parts []Part
}

// Part holds either text or inline binary content.
type Part struct {
	Text   string
	Inline *Inline
}

type Inline struct {
	Name      string
	MediaType string
	Data      []byte
}

// Backend performs exactly one call against a hosted model.
type Backend interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

type Options struct {
	Provider       string
	Model          string
	ThinkingBudget int32
	// HistoryWindow limits the prior turns sent per call; 0 sends all of them.
	HistoryWindow int
	Timeout       time.Duration
	Tracer        trace.Tracer
}

// Client turns a prompt, the prior dialogue and the current attachment into one
// backend call. It never retries.
type Client struct {
	backend Backend
	opts    Options
	tracer  trace.Tracer
}

func NewClient(backend Backend, opts Options) *Client {
	if opts.Model == "" {
		opts.Model = config.DefaultModel
	}
	if opts.Provider == "" {
		opts.Provider = "gemini"
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("readable/reasoning")
	}
	return &Client{backend: backend, opts: opts, tracer: tracer}
}

// New builds a client for the configured provider.
func New(cfg config.ReasoningConfig, historyWindow int, creds credential.Source, tracer trace.Tracer) (*Client, error) {
	var backend Backend
	switch cfg.Provider {
	case "", "gemini":
		backend = NewGeminiBackend(creds, cfg.BaseURL)
	case "openai", "claude":
		backend = NewEinoBackend(cfg.Provider, creds, cfg.BaseURL, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	return NewClient(backend, Options{
		Provider:       cfg.Provider,
		Model:          cfg.Model,
		ThinkingBudget: cfg.Budget(),
		HistoryWindow:  historyWindow,
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		Tracer:         tracer,
	}), nil
}

// Complete sends one request and returns the answer text.
func (c *Client) Complete(ctx context.Context, prompt string, history []models.Turn, att *models.Attachment) (string, error) {
	req, err := c.BuildRequest(prompt, history, att)
	if err != nil {
		rerr := &Error{Kind: KindUpstream, Message: UpstreamFallbackMessage, Err: err}
		telemetry.ReasoningRequests.WithLabelValues(c.opts.Provider, rerr.Kind.String()).Inc()
		slog.Warn("build reasoning request failed", "provider", c.opts.Provider, "error", err)
		return "", rerr
	}

	ctx, span := c.tracer.Start(ctx, "reasoning.complete", trace.WithAttributes(
		attribute.String("reasoning.provider", c.opts.Provider),
		attribute.String("reasoning.model", req.Model),
		attribute.Int("reasoning.blocks", len(req.Blocks)),
		attribute.Bool("reasoning.attachment", att != nil),
	))
	defer span.End()

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.backend.Generate(ctx, req)
	telemetry.ReasoningDuration.WithLabelValues(c.opts.Provider).Observe(time.Since(start).Seconds())
	if err != nil {
		rerr := Classify(err)
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Kind.String())
		telemetry.ReasoningRequests.WithLabelValues(c.opts.Provider, rerr.Kind.String()).Inc()
		slog.Warn("reasoning call failed", "provider", c.opts.Provider, "kind", rerr.Kind.String(), "error", err)
		return "", rerr
	}
	telemetry.ReasoningRequests.WithLabelValues(c.opts.Provider, "ok").Inc()
	if strings.TrimSpace(text) == "" {
		return FallbackAnswer, nil
	}
	return text, nil
}

// BuildRequest maps history to blocks in order and appends the final user block.
func (c *Client) BuildRequest(prompt string, history []models.Turn, att *models.Attachment) (*Request, error) {
	history = conversation.Window(history, c.opts.HistoryWindow)
	blocks := make([]Block, 0, len(history)+1)
	for _, turn := range history {
		blocks = append(blocks, Block{Role: turn.Role, Parts: []Part{{Text: turn.Content}}})
	}

	final, err := finalBlock(prompt, att)
	if err != nil {
		return nil, err
	}
	blocks = append(blocks, final)

	return &Request{
		Model:             c.opts.Model,
		SystemInstruction: SystemInstruction,
		ThinkingBudget:    c.opts.ThinkingBudget,
		Blocks:            blocks,
	}, nil
}

func finalBlock(prompt string, att *models.Attachment) (Block, error) {
	switch {
	case att == nil:
		return Block{Role: models.RoleUser, Parts: []Part{{Text: prompt}}}, nil
	case att.IsBinary:
		data, err := base64.StdEncoding.DecodeString(att.InlineData())
		if err != nil {
			return Block{}, fmt.Errorf("decode attachment %s: %w", att.Name, err)
		}
		return Block{Role: models.RoleUser, Parts: []Part{
			{Inline: &Inline{Name: att.Name, MediaType: att.MediaType, Data: data}},
			{Text: fmt.Sprintf(binaryPromptFormat, att.Name, prompt)},
		}}, nil
	default:
		return Block{Role: models.RoleUser, Parts: []Part{
			{Text: fmt.Sprintf(textPromptFormat, att.Name, att.Payload, prompt)},
		}}, nil
	}
}
