package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// ErrEmptyResult is returned when the oracle answers with nothing usable.
var ErrEmptyResult = errors.New("oracle returned an empty result")

var schemaNameRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Request describes one structured generation call.
type Request struct {
	Name        string // schema name, e.g. "short_answer_grades"
	System      string
	Prompt      string
	Temperature float32
}

// Validator is implemented by result types with invariants beyond the schema.
type Validator interface {
	Validate() error
}

// Oracle maps a prompt plus the shape of out to a structured value, or fails.
// A nil, empty or schema-mismatched reply is always an error.
type Oracle interface {
	Generate(ctx context.Context, req Request, out any) error
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a new LLM client. A zero timeout leaves deadlines to the caller.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		timeout: timeout,
	}
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Generate sends req with a JSON schema derived from out and decodes the
// verified reply into out.
func (c *Client) Generate(ctx context.Context, req Request, out any) error {
	schema, err := schemaFor(out)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName(req.Name),
				Schema: schema,
			},
		},
		Temperature: req.Temperature,
	})
	if err != nil {
		return fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return fmt.Errorf("LLM returned no choices: %w", ErrEmptyResult)
	}

	raw := extractJSON(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "name", req.Name, "raw", raw)
	if raw == "" || raw == "null" {
		return ErrEmptyResult
	}

	if err := schema.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate LLM response: %w", err)
		}
	}
	return nil
}

func schemaFor(out any) (*jsonschema.Definition, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("output must be a non-nil pointer, got %T", out)
	}
	return jsonschema.GenerateSchemaForType(rv.Elem().Interface())
}

func schemaName(name string) string {
	name = schemaNameRegex.ReplaceAllString(name, "_")
	if name == "" {
		return "result"
	}
	return name
}

// extractJSON strips surrounding whitespace and markdown code fences.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	return s
}
