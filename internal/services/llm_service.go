package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"brokerbot/internal/models"
)

// summarizeTimeout bounds the per-chunk summarization call so a slow
// provider cannot stall the chat path.
const summarizeTimeout = 15 * time.Second

// LLMConfig holds the completion provider settings.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	Temperature    float64
	BotName        string
	BotPersonality string
}

// LLMService wraps the OpenAI-compatible completion API for reply
// generation and chunk summarization.
type LLMService struct {
	client openai.Client
	config LLMConfig
}

// NewLLMService builds the client. BaseURL is optional and allows pointing
// at any OpenAI-compatible endpoint.
func NewLLMService(config LLMConfig) *LLMService {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 500
	}
	return &LLMService{
		client: openai.NewClient(opts...),
		config: config,
	}
}

// systemPrompt renders the bot persona for reply generation.
func (s *LLMService) systemPrompt() string {
	name := s.config.BotName
	if name == "" {
		name = "Assistant"
	}
	prompt := fmt.Sprintf("You are %s.", name)
	if s.config.BotPersonality != "" {
		prompt += " " + s.config.BotPersonality
	}
	return prompt
}

// GenerateReply produces the assistant's next turn from the assembled
// conversation context.
func (s *LLMService) GenerateReply(ctx context.Context, contextMessages []models.ContextMessage) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(s.config.Model),
		Temperature:         openai.Float(s.config.Temperature),
		MaxCompletionTokens: openai.Int(int64(s.config.MaxTokens)),
	}
	params.Messages = append(params.Messages, openai.SystemMessage(s.systemPrompt()))
	for _, msg := range contextMessages {
		switch msg.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Summarize condenses a sealed run of messages into a few sentences. It
// satisfies the memory engine's Summarizer interface.
func (s *LLMService) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	var transcript strings.Builder
	for _, msg := range messages {
		transcript.WriteString(string(msg.Role))
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		transcript.WriteString("\n")
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(s.config.Model),
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(200),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("Summarize the following conversation excerpt in 2-3 sentences. Keep names, decisions, and any facts the participants stated."),
			openai.UserMessage(transcript.String()),
		},
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
