package nodes

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/utils"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

//go:embed llm.yml
var llmDefinition string

const LlmKind core.NodeKind = "llm"

const (
	LlmInputSystemPrompt core.PortId = "system_prompt"
	LlmInputUserMessage  core.PortId = "user_message"
	LlmInputImages       core.PortId = "images"
)

const DefaultLlmModel = "gemini-2.0-flash"

type LlmData struct {
	core.BaseData
	Model string `json:"model"`
	// Result of the last run, shown in the editor. Never read as input.
	Result string `json:"result,omitempty"`
}

var llmSchema = core.NewStructSchema(func() LlmData {
	return LlmData{Model: DefaultLlmModel}
})

func createLlmClient(ctx context.Context, model, apiKey string) (llms.Model, error) {
	modelLower := strings.ToLower(model)

	switch {
	case strings.HasPrefix(modelLower, "gpt-") || strings.HasPrefix(modelLower, "o1-") || strings.HasPrefix(modelLower, "o3-"):
		return openai.New(
			openai.WithModel(model),
			openai.WithToken(apiKey),
		)

	case strings.HasPrefix(modelLower, "claude-"):
		return anthropic.New(
			anthropic.WithModel(model),
			anthropic.WithToken(apiKey),
		)

	case strings.HasPrefix(modelLower, "gemini-"):
		return googleai.New(
			ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(model),
		)

	case strings.HasPrefix(modelLower, "mistral-") || strings.HasPrefix(modelLower, "mixtral-"):
		return mistral.New(
			mistral.WithModel(model),
			mistral.WithAPIKey(apiKey),
		)

	default:
		return ollama.New(ollama.WithModel(model))
	}
}

func defaultTemperature(model string) float64 {
	modelLower := strings.ToLower(model)

	switch {
	case strings.HasPrefix(modelLower, "claude-"):
		return 1.0
	case strings.HasPrefix(modelLower, "mistral-"), strings.HasPrefix(modelLower, "mixtral-"):
		return 0.8
	default:
		return 0.7
	}
}

func executeLlm(ctx context.Context, e *Executor, req core.ExecutionRequest) (any, error) {
	data, err := llmSchema.Decode(req.Data)
	if err != nil {
		return nil, err
	}

	model := utils.If(data.Model == "", DefaultLlmModel, data.Model)

	userMessage := textOf(req.Inputs[LlmInputUserMessage])
	if strings.TrimSpace(userMessage) == "" {
		return nil, core.CreateErr(nil, "user message is empty").SetHint("Connect a text node with content to the 'User Message' input.")
	}
	systemPrompt := textOf(req.Inputs[LlmInputSystemPrompt])

	var imageUrls []string
	if images, ok := req.Inputs[LlmInputImages].([]any); ok {
		for i, img := range images {
			url, ok := urlOf(img)
			if !ok {
				return nil, core.CreateErr(nil, "the %s image is not a url", utils.Ordinal(i+1))
			}
			imageUrls = append(imageUrls, url)
		}
	}

	llm, err := e.llmClient(ctx, model)
	if err != nil {
		return nil, core.CreateErr(err, "failed to create client for model '%s'", model)
	}
	if llm == nil {
		// no provider configured, answer locally
		return fmt.Sprintf("[%s] %s", model, userMessage), nil
	}

	humanParts := []llms.ContentPart{
		llms.TextPart(userMessage),
	}
	for _, url := range imageUrls {
		humanParts = append(humanParts, llms.ImageURLPart(url))
	}

	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: humanParts,
	})

	response, err := llm.GenerateContent(ctx, messages, llms.WithTemperature(defaultTemperature(model)))
	if err != nil {
		return nil, core.CreateErr(err, "failed to generate text from LLM")
	}

	if response == nil || len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Content, nil
}

func init() {
	err := registerKind(llmDefinition, llmSchema, executeLlm)
	if err != nil {
		panic(err)
	}
}
