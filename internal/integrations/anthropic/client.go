package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goanthropic "github.com/liushuangls/go-anthropic/v2"

	"fudosan-agent/internal/domain"
)

const DefaultMaxTokens = 1024

// Client adapts the Anthropic Messages API to the chat interface used by the
// conversation service.
type Client struct {
	api        *goanthropic.Client
	baseURL    string
	httpClient *http.Client
	maxTokens  int
}

type Option func(*Client)

// WithBaseURL overrides the API root, e.g. https://api.anthropic.com/v1.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic: api key must not be empty")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxTokens:  DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}

	clientOpts := []goanthropic.ClientOption{goanthropic.WithHTTPClient(c.httpClient)}
	if c.baseURL != "" {
		clientOpts = append(clientOpts, goanthropic.WithBaseURL(c.baseURL))
	}
	c.api = goanthropic.NewClient(apiKey, clientOpts...)
	return c, nil
}

// Chat sends the conversation and returns the concatenated text blocks of the
// reply. System messages are lifted into the request's system field.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("anthropic: model must not be empty")
	}
	system, turns := splitSystem(messages)
	if len(turns) == 0 {
		return "", errors.New("anthropic: at least one user message is required")
	}

	req := goanthropic.MessagesRequest{
		Model:     goanthropic.Model(model),
		System:    system,
		MaxTokens: c.maxTokens,
		Messages:  make([]goanthropic.Message, 0, len(turns)),
	}
	for _, m := range turns {
		if m.Role == domain.RoleAssistant {
			req.Messages = append(req.Messages, goanthropic.NewAssistantTextMessage(m.Content))
		} else {
			req.Messages = append(req.Messages, goanthropic.NewUserTextMessage(m.Content))
		}
	}

	resp, err := c.api.CreateMessages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("anthropic: create message: %w", err)
	}

	var out strings.Builder
	for i := range resp.Content {
		out.WriteString(resp.Content[i].GetText())
	}
	if out.Len() == 0 {
		return "", errors.New("anthropic: no text content in response")
	}
	return out.String(), nil
}

// splitSystem separates system prompts from the dialogue and merges adjacent
// messages of the same role, since the API requires alternating turns.
func splitSystem(messages []domain.ChatMessage) (string, []domain.ChatMessage) {
	var system []string
	turns := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := m.Role
		if role != domain.RoleAssistant {
			role = domain.RoleUser
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, domain.ChatMessage{Role: role, Content: m.Content})
	}
	// The first turn must come from the user.
	if len(turns) > 0 && turns[0].Role == domain.RoleAssistant {
		turns = turns[1:]
	}
	return strings.Join(system, "\n\n"), turns
}
