// Package anthropic runs agents on Anthropic's Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
)

const (
	// DefaultMaxTokens bounds a single agent reply
	DefaultMaxTokens = 4096

	tagsPrefix       = "TAGS:"
	terminateKeyword = "TERMINATE"
)

// DefaultModel is used when no model is configured
var DefaultModel = anthropic.ModelClaudeSonnet4_20250514

// Config holds backend configuration
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint.
	BaseURL string
	// SystemPrompts maps agent ids to their system prompt.
	SystemPrompts map[string]string
	Logger        *zap.Logger
}

// Backend implements AgentBackend on the Messages API.
// Each request is a single user message; the reply's text blocks become
// the output content. A line "TAGS: a, b" labels the output for swarm
// routing and a line "TERMINATE" asks a swarm to stop.
type Backend struct {
	client        anthropic.Client
	model         anthropic.Model
	maxTokens     int64
	systemPrompts map[string]string
	logger        *zap.Logger

	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

// NewBackend creates a new Anthropic backend
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Backend{
		client:        anthropic.NewClient(opts...),
		model:         model,
		maxTokens:     maxTokens,
		systemPrompts: cfg.SystemPrompts,
		logger:        logger,
	}, nil
}

// Execute sends the request to the model and parses its reply
func (b *Backend) Execute(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	}
	if system := b.systemPrompt(req.AgentID); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(ctx, req.AgentID, err)
	}

	b.inputTokens.Add(resp.Usage.InputTokens)
	b.outputTokens.Add(resp.Usage.OutputTokens)
	b.logger.Debug("agent replied",
		zap.String("agent_id", req.AgentID),
		zap.String("model", string(resp.Model)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.String("stop_reason", string(resp.StopReason)),
	)

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	return parseReply(text.String()), nil
}

// Usage returns the total tokens consumed so far
func (b *Backend) Usage() (input, output int64) {
	return b.inputTokens.Load(), b.outputTokens.Load()
}

func (b *Backend) systemPrompt(agentID string) string {
	if p, ok := b.systemPrompts[agentID]; ok {
		return p
	}
	return fmt.Sprintf("You are the agent %q in a multi-agent workflow. "+
		"Answer the task directly. End with a line \"TAGS: <comma separated topics>\" "+
		"describing the follow-up work, or a line \"TERMINATE\" when the task is done.", agentID)
}

// buildPrompt renders the input followed by the context keys in sorted order
func buildPrompt(req ports.AgentRequest) string {
	if len(req.Context) == 0 {
		return req.Input
	}

	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(req.Input)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		v, err := json.Marshal(req.Context[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%q", fmt.Sprint(req.Context[k])))
		}
		fmt.Fprintf(&b, "- %s: %s\n", k, v)
	}
	return b.String()
}

// parseReply strips control lines from the reply
func parseReply(text string) *ports.AgentOutput {
	out := &ports.AgentOutput{}
	var body []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == terminateKeyword:
			out.Terminate = true
		case strings.HasPrefix(trimmed, tagsPrefix):
			for _, tag := range strings.Split(strings.TrimPrefix(trimmed, tagsPrefix), ",") {
				if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
					out.Tags = append(out.Tags, tag)
				}
			}
		default:
			body = append(body, line)
		}
	}
	out.Content = strings.TrimSpace(strings.Join(body, "\n"))
	return out
}

// classify maps transport failures onto the backend sentinels
func classify(ctx context.Context, agentID string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("agent %s: %w", agentID, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: agent %s: %v", domain.ErrAgentTimeout, agentID, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return fmt.Errorf("%w: agent %s: %v", domain.ErrAgentTimeout, agentID, err)
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: agent %s: %v", domain.ErrAgentUnavailable, agentID, err)
		}
		return fmt.Errorf("failed to execute agent %s: %w", agentID, err)
	}
	return fmt.Errorf("%w: agent %s: %v", domain.ErrAgentUnavailable, agentID, err)
}
