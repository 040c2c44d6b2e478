// Package intent classifies inbound free text into a domain intent and
// resolves the city it refers to.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"concierge/internal/llm"
	"concierge/internal/model"
)

// Classification is the router output for one message.
type Classification struct {
	Intent     model.Intent    `json:"intent"`
	SubIntent  model.SubIntent `json:"subIntent,omitempty"`
	City       string          `json:"city,omitempty"`
	Confidence float64         `json:"confidence"`
	// Ordering is true when the message expresses explicit booking intent,
	// not merely a question; it gates ServiceRequest creation.
	Ordering bool `json:"ordering"`
}

// Router classifies messages with an LLM call and a deterministic keyword
// fallback. Classifier errors never propagate to callers.
type Router struct {
	llm   llm.Client
	model string
	log   *zap.Logger
}

func NewRouter(client llm.Client, modelName string, log *zap.Logger) *Router {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &Router{llm: client, model: modelName, log: log}
}

var greetingPattern = regexp.MustCompile(`^\s*(hi|hello|hey|hiya|yo|good (morning|afternoon|evening)|thanks|thank you|thx|ok|okay|bye|goodbye)[\s!.,?]*$`)

// IsGreeting matches pure greetings/small-talk which skip the classifier
// and any external catalog call entirely.
func IsGreeting(text string) bool {
	return greetingPattern.MatchString(strings.ToLower(text))
}

const classifyPrompt = `You classify a customer message for a travel concierge service.
Pick exactly one intent from: hotel, transport, tour, shopping, market_info, general, out_of_scope.
If the message names a district or neighborhood of a supported city (Guangzhou districts: Tianhe, Baiyun, Panyu, Yuexiu, Haizhu, Liwan, Huangpu; Hainan localities: Sanya, Haikou, Dadonghai, Yalong), use the parent city slug ("guangzhou" or "hainan") as the city.
Respond with strict JSON only: {"intent":"...","city":"...","confidence":0.0}
Use an empty city string when no city is mentioned.`

// Classify routes a free-text message. Greetings short-circuit; classifier
// failure degrades to the keyword scan with lower confidence.
func (r *Router) Classify(ctx context.Context, text string) Classification {
	if IsGreeting(text) {
		return Classification{Intent: model.IntentGeneral, Confidence: 1}
	}

	cls, err := r.classifyWithModel(ctx, text)
	if err != nil {
		r.log.Warn("classifier failed, using keyword fallback", zap.Error(err))
		cls = keywordClassify(text)
	}

	if cls.Intent == model.IntentShopping {
		cls.SubIntent = classifyShoppingSubIntent(text)
	}
	if cls.City == "" {
		cls.City = ResolveCity(text)
	}
	cls.Ordering = hasOrderingIntent(text)
	return cls
}

func (r *Router) classifyWithModel(ctx context.Context, text string) (Classification, error) {
	resp, err := r.llm.Complete(ctx, &llm.CompletionRequest{
		Model: r.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   120,
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, err
	}

	var out struct {
		Intent     string  `json:"intent"`
		City       string  `json:"city"`
		Confidence float64 `json:"confidence"`
	}
	raw := strings.TrimSpace(resp.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "` \n")
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Classification{}, fmt.Errorf("malformed classifier output: %w", err)
	}

	it := model.Intent(strings.ToLower(out.Intent))
	switch it {
	case model.IntentHotel, model.IntentTransport, model.IntentTour,
		model.IntentShopping, model.IntentMarketInfo, model.IntentGeneral, model.IntentOutOfScope:
	default:
		return Classification{}, fmt.Errorf("unknown intent %q", out.Intent)
	}

	city := strings.ToLower(strings.TrimSpace(out.City))
	if parent, ok := subLocalityAliases[city]; ok {
		city = parent
	}

	return Classification{Intent: it, City: city, Confidence: out.Confidence}, nil
}

// intentKeywords is the deterministic fallback taxonomy. Approximate on
// purpose; it only runs when the classifier is unavailable.
var intentKeywords = []struct {
	intent model.Intent
	words  []string
}{
	{model.IntentHotel, []string{"hotel", "room", "stay", "accommodation", "check-in", "check in"}},
	{model.IntentTransport, []string{"pickup", "pick up", "airport", "transfer", "car", "driver", "taxi"}},
	{model.IntentTour, []string{"tour", "guide", "sightseeing", "trip", "itinerary", "excursion"}},
	{model.IntentShopping, []string{"buy", "shopping", "wholesale", "market", "product", "supplier", "factory", "sourcing"}},
	{model.IntentMarketInfo, []string{"where is", "what is", "opening hours", "location", "info"}},
}

func keywordClassify(text string) Classification {
	lower := strings.ToLower(text)
	for _, entry := range intentKeywords {
		for _, w := range entry.words {
			if strings.Contains(lower, w) {
				return Classification{Intent: entry.intent, Confidence: 0.4}
			}
		}
	}
	return Classification{Intent: model.IntentGeneral, Confidence: 0.2}
}

// factoryKeywords vs retailKeywords drive the binary shopping sub-intent:
// more sourcing/manufacturing hits than purchase hits selects factory.
var factoryKeywords = []string{
	"factory", "manufacturer", "manufacturing", "oem", "odm", "bulk",
	"wholesale", "supplier", "sourcing", "moq", "production",
}

var retailKeywords = []string{
	"buy", "shop", "store", "mall", "retail", "price", "cheap", "souvenir",
}

func classifyShoppingSubIntent(text string) model.SubIntent {
	lower := strings.ToLower(text)
	factory, retail := 0, 0
	for _, w := range factoryKeywords {
		if strings.Contains(lower, w) {
			factory++
		}
	}
	for _, w := range retailKeywords {
		if strings.Contains(lower, w) {
			retail++
		}
	}
	switch {
	case factory > retail:
		return model.SubIntentFactory
	case retail > factory:
		return model.SubIntentRetail
	default:
		return model.SubIntentUnknown
	}
}

var orderingKeywords = []string{
	"book", "order", "arrange", "reserve", "i need a", "i need an",
	"can you get", "please arrange", "schedule",
}

func hasOrderingIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range orderingKeywords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
