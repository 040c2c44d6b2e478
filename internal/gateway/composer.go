package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"concierge/internal/catalog"
	"concierge/internal/llm"
	"concierge/internal/model"
)

// Canned replies. The customer always receives something, even when every
// external dependency is down.
const (
	greetingReply = "Hello! I'm your travel concierge for Guangzhou and Hainan. " +
		"I can help with hotels, airport pickups, tours and shopping - what do you need?"
	resetGreeting = "Let's start fresh! Tell me what you need - hotels, transport, " +
		"tours or shopping in Guangzhou or Hainan."
	fallbackReply = "I'm having a little trouble right now, but a member of our team " +
		"will follow up shortly."
	datePromptReply = "Happy to find you a hotel! Please share your check-in and " +
		"check-out dates so I can check availability."
)

// maxComposedItems bounds how many catalog items one reply lists.
const maxComposedItems = 5

// Composer turns retrieved domain data into a bounded customer reply.
type Composer struct {
	llm   llm.Client
	model string
	log   *zap.Logger
}

func NewComposer(client llm.Client, modelName string, log *zap.Logger) *Composer {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &Composer{llm: client, model: modelName, log: log}
}

// ComposeItems formats a search result into reply text plus an image list.
func (c *Composer) ComposeItems(it model.Intent, city string, result *catalog.SearchResult) (string, []string) {
	if result == nil || len(result.Items) == 0 {
		return "I couldn't find anything matching that just now - could you tell me a bit more about what you're looking for?", nil
	}

	items := result.Items
	if len(items) > maxComposedItems {
		items = items[:maxComposedItems]
	}

	var sb strings.Builder
	if city != "" {
		sb.WriteString(fmt.Sprintf("Here's what I found in %s:\n\n", titleCase(city)))
	} else {
		sb.WriteString("Here's what I found:\n\n")
	}

	var images []string
	for i, item := range items {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, item.Title))
		if item.Price > 0 {
			cur := item.Currency
			if cur == "" {
				cur = "CNY"
			}
			sb.WriteString(fmt.Sprintf(" - %.2f %s", item.Price, cur))
		}
		if item.Rating > 0 {
			sb.WriteString(fmt.Sprintf(" (rated %.1f)", item.Rating))
		}
		sb.WriteString("\n")
		if item.ImageURL != "" {
			images = append(images, item.ImageURL)
		}
	}
	sb.WriteString("\nReply with a number for details, or tell me more about what you need.")
	return sb.String(), images
}

// EnforceEnglish translates the reply to English via the completion
// service; on any failure the original text is returned untouched.
func (c *Composer) EnforceEnglish(ctx context.Context, text string) string {
	if text == "" || isLikelyEnglish(text) {
		return text
	}

	resp, err := c.llm.Complete(ctx, &llm.CompletionRequest{
		Model: c.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: "Translate the following message to natural English. Respond with the translation only."},
			{Role: "user", Content: text},
		},
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		c.log.Warn("translation skipped", zap.Error(err))
		return text
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return text
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// isLikelyEnglish is a cheap ASCII-ratio heuristic; replies we compose
// ourselves are already English and skip the translation call.
func isLikelyEnglish(text string) bool {
	if text == "" {
		return true
	}
	ascii := 0
	for _, r := range text {
		if r < 128 {
			ascii++
		}
	}
	return float64(ascii)/float64(len([]rune(text))) > 0.9
}
