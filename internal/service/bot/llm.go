package bot

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/roomchat/internal/config"
)

// DefaultSystemPrompt asks the model to extract banking parameters as JSON.
const DefaultSystemPrompt = `You are a customer support agent of a Bank in Greece. Users will be asking to perform the following 5 actions: 1) User Registration by giving user name and optionally the initial account balance 2) Current Account balance 3) Withdraw from balance 4) Deposit to balance 5) Transfer money to another account.
Select the action that best fits what the bot asked and what the user responded to the question.
You MUST reply with a single JSON object using the following schema, and omit any parameter you cannot find:
{
  "user_name": "any name found in the user input",
  "action": "one of REGISTER, BALANCE, DEPOSIT, WITHDRAW, TRANSFER",
  "iban": "any IBAN the user wants to transfer money to",
  "amount": "any amount of money in the message, the number only without the currency"
}`

// LLMResponder runs the extraction prompt through an eino chat chain.
type LLMResponder struct {
	systemPrompt string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewLLMResponder compiles the prompt + model chain from the AI config.
func NewLLMResponder(ctx context.Context, cfg config.AIConfig, systemPrompt string) (*LLMResponder, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &LLMResponder{systemPrompt: systemPrompt, chain: runnable}, nil
}

// Reply runs the chain for one user message and returns the raw model output.
func (r *LLMResponder) Reply(ctx context.Context, room string, history []Turn, query string) (string, error) {
	response, err := r.chain.Invoke(ctx, map[string]any{
		"system":  r.systemPrompt,
		"history": buildHistoryMessages(history),
		"query":   query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[bot] generated response for room=%s, length=%d", room, len(response.Content))
	return response.Content, nil
}

func buildHistoryMessages(turns []Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
