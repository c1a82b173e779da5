package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/conversation"
	"github.com/studypilot/backend/internal/metrics"
	"github.com/studypilot/backend/internal/query"
	"github.com/studypilot/backend/pkg/circuitbreaker"
	"github.com/studypilot/backend/pkg/logger"
	"github.com/studypilot/backend/pkg/retry"
)

// CloudConfidence is reported for every cloud answer.
const CloudConfidence = 0.99

const systemPrompt = `You are Study Pilot AI, an advanced educational assistant for university students.
Answer the student's question accurately, concisely, and academically.
Use clear formatting (bullet points, bold text).
Maintain a friendly, encouraging, and helpful tone.`

var ErrEmptyCompletion = errors.New("completion returned no choices")

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type Message struct {
	Role    string
	Content string
}

type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange:    metrics.ObserveBreaker,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		Name:           "llm-completion",
		MaxAttempts:    cfg.MaxRetries + 1,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		OnRetry:        countRetry,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.Bool("custom_base_url", cfg.BaseURL != ""),
	)

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				err = fmt.Errorf("failed to create completion: %w", err)
				if isClientError(err) {
					return retry.Permanent(err)
				}
				return err
			}

			if len(resp.Choices) == 0 {
				return retry.Permanent(ErrEmptyCompletion)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// Answer asks the cloud model, passing the recent conversation as context.
func (c *Client) Answer(ctx context.Context, question string, history []conversation.Message) (query.Response, error) {
	messages := make([]Message, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case conversation.RoleUser:
			messages = append(messages, Message{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case conversation.RoleAI:
			messages = append(messages, Message{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		}
	}
	messages = append(messages, Message{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf("Question: %s", question),
	})

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
	})
	if err != nil {
		return query.Response{}, fmt.Errorf("failed to get cloud answer: %w", err)
	}

	logger.Info("Cloud answer generated",
		zap.Int("history", len(history)),
		zap.Int("response_length", len(resp.Content)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return query.Response{
		ID:         uuid.New().String(),
		Text:       resp.Content,
		Body:       resp.Content,
		Confidence: CloudConfidence,
		Topic:      query.GeneralTopic,
		IsLocal:    false,
		Stage:      query.StageCloud,
	}, nil
}

func countRetry(int, error) {
	metrics.CloudRequests.WithLabelValues("retry").Inc()
}

func isClientError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 400 && reqErr.HTTPStatusCode < 500 && reqErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}
