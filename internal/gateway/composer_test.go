package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"concierge/internal/catalog"
	"concierge/internal/llm"
	"concierge/internal/model"
)

// countingLLM records completion calls and returns a scripted reply.
type countingLLM struct {
	content string
	err     error
	calls   int
}

func (c *countingLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{Content: c.content}, nil
}

func (c *countingLLM) Name() string { return "counting" }

func searchResult(n int) *catalog.SearchResult {
	r := &catalog.SearchResult{}
	for i := 0; i < n; i++ {
		r.Items = append(r.Items, catalog.Item{
			Source:     "tao",
			ExternalID: fmt.Sprintf("%d", i),
			Title:      fmt.Sprintf("Item %d", i),
			Price:      float64(10 * (i + 1)),
			Currency:   "CNY",
			ImageURL:   fmt.Sprintf("https://img.example.com/%d.jpg", i),
		})
	}
	return r
}

func TestComposeItemsBoundsList(t *testing.T) {
	c := NewComposer(&countingLLM{}, "test-model", zap.NewNop())

	text, images := c.ComposeItems(model.IntentShopping, "guangzhou", searchResult(9))

	assert.Contains(t, text, "Guangzhou")
	assert.Contains(t, text, "1. Item 0")
	assert.Contains(t, text, "5. Item 4")
	assert.NotContains(t, text, "6. Item 5", "replies list at most five items")
	assert.Len(t, images, maxComposedItems)
}

func TestComposeItemsEmptyResult(t *testing.T) {
	c := NewComposer(&countingLLM{}, "test-model", zap.NewNop())

	text, images := c.ComposeItems(model.IntentShopping, "", searchResult(0))
	assert.Contains(t, text, "couldn't find anything")
	assert.Empty(t, images)

	text, images = c.ComposeItems(model.IntentShopping, "", nil)
	assert.Contains(t, text, "couldn't find anything")
	assert.Empty(t, images)
}

func TestComposeItemsFormatsPriceAndRating(t *testing.T) {
	c := NewComposer(&countingLLM{}, "test-model", zap.NewNop())

	text, _ := c.ComposeItems(model.IntentHotel, "hainan", &catalog.SearchResult{
		Items: []catalog.Item{
			{Title: "Bay Resort", Price: 880, Currency: "CNY", Rating: 4.6},
			{Title: "No price listed"},
		},
	})

	assert.Contains(t, text, "Bay Resort - 880.00 CNY (rated 4.6)")
	assert.Contains(t, text, "2. No price listed\n")
}

func TestEnforceEnglishSkipsAsciiText(t *testing.T) {
	f := &countingLLM{content: "should never be used"}
	c := NewComposer(f, "test-model", zap.NewNop())

	in := "Here's what I found:\n1. Silk scarf - 79.50 CNY"
	out := c.EnforceEnglish(context.Background(), in)

	assert.Equal(t, in, out)
	assert.Zero(t, f.calls, "composed English replies must not cost a completion call")
}

func TestEnforceEnglishTranslates(t *testing.T) {
	f := &countingLLM{content: "Hello, how can I help you?"}
	c := NewComposer(f, "test-model", zap.NewNop())

	out := c.EnforceEnglish(context.Background(), "你好，有什么可以帮您？")

	assert.Equal(t, "Hello, how can I help you?", out)
	assert.Equal(t, 1, f.calls)
}

func TestEnforceEnglishFallsBackOnError(t *testing.T) {
	f := &countingLLM{err: errors.New("quota exceeded")}
	c := NewComposer(f, "test-model", zap.NewNop())

	in := "您好您好您好"
	assert.Equal(t, in, c.EnforceEnglish(context.Background(), in))

	// Blank model output also keeps the original.
	f2 := &countingLLM{content: "   "}
	c2 := NewComposer(f2, "test-model", zap.NewNop())
	assert.Equal(t, in, c2.EnforceEnglish(context.Background(), in))
}

func TestIsLikelyEnglish(t *testing.T) {
	assert.True(t, isLikelyEnglish(""))
	assert.True(t, isLikelyEnglish("plain ascii text"))
	assert.True(t, isLikelyEnglish("mostly english with one café"))

	require.False(t, isLikelyEnglish("这是一段中文回复，不是英文"))
	assert.False(t, isLikelyEnglish(strings.Repeat("中", 10)))
}
