package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/models"
)

const symptomRiskPrompt = `You are a medical assistant. A patient will describe their symptoms to you, and you will use that information to provide a preliminary assessment of whether their symptoms could be related to a health issue. You will provide recommendations for next steps, such as consulting a healthcare professional. Do not provide a diagnosis, only a risk assessment based on the symptoms provided.

Return the response as a JSON object with this structure:
{
    "text": "risk_assessment_and_recommendations"
}

Symptoms: %s`

const informationPrompt = `You are a helpful chatbot assistant that provides information about general medical topics. Answer the following question to the best of your ability. Do not provide medical advice, only general information.

Return the response as a JSON object with this structure:
{
    "text": "answer"
}

Question: %s`

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIAnswerer generates answers with a chat completion model.
type OpenAIAnswerer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewOpenAIAnswerer(cfg OpenAIConfig, logger *zap.Logger) *OpenAIAnswerer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIAnswerer{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

func (a *OpenAIAnswerer) GenerateAnswer(ctx context.Context, topic Topic, input string) (*Answer, error) {
	const op = "answer.OpenAIAnswerer"

	var prompt string
	switch topic {
	case TopicSymptomRisk:
		prompt = fmt.Sprintf(symptomRiskPrompt, input)
	case TopicInformation:
		prompt = fmt.Sprintf(informationPrompt, input)
	default:
		return nil, models.ValidationError(op, fmt.Sprintf("unknown topic %q", topic))
	}

	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   a.maxTokens,
			Temperature: float32(a.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		a.logger.Error("Failed to get completion", zap.String("topic", string(topic)), zap.Error(err))
		if ctx.Err() != nil {
			return nil, models.ExternalServiceError(op, "timeout", err)
		}
		return nil, models.ExternalServiceError(op, "answer service unavailable", err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.ExternalServiceError(op, "empty completion", nil)
	}

	// Parse the structured response
	var answer Answer
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &answer); err != nil {
		a.logger.Error("Failed to parse completion",
			zap.Error(err),
			zap.String("response", content))
		return nil, models.ExternalServiceError(op, "malformed answer", err)
	}
	if strings.TrimSpace(answer.Text) == "" {
		return nil, models.ExternalServiceError(op, "empty answer", nil)
	}

	a.logger.Debug("Answer generated",
		zap.String("topic", string(topic)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return &answer, nil
}
