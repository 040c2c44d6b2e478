package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"concierge/internal/llm"
	"concierge/internal/model"
)

// fakeLLM returns a scripted response or error and counts calls.
type fakeLLM struct {
	content string
	err     error
	calls   int
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func TestIsGreeting(t *testing.T) {
	assert.True(t, IsGreeting("hi"))
	assert.True(t, IsGreeting("Hello!"))
	assert.True(t, IsGreeting("good morning"))
	assert.True(t, IsGreeting("  thanks  "))

	assert.False(t, IsGreeting("hello, I need a hotel"))
	assert.False(t, IsGreeting("book a car"))
}

func TestClassifyGreetingSkipsClassifier(t *testing.T) {
	f := &fakeLLM{content: `{"intent":"hotel","city":"","confidence":0.9}`}
	r := NewRouter(f, "test-model", zap.NewNop())

	cls := r.Classify(context.Background(), "hello!")

	assert.Equal(t, model.IntentGeneral, cls.Intent)
	assert.Zero(t, f.calls, "greetings must not reach the classifier")
}

func TestClassifyWithModel(t *testing.T) {
	f := &fakeLLM{content: `{"intent":"hotel","city":"guangzhou","confidence":0.92}`}
	r := NewRouter(f, "test-model", zap.NewNop())

	cls := r.Classify(context.Background(), "I want to book a hotel in Guangzhou")

	assert.Equal(t, model.IntentHotel, cls.Intent)
	assert.Equal(t, "guangzhou", cls.City)
	assert.InDelta(t, 0.92, cls.Confidence, 0.001)
	assert.True(t, cls.Ordering)
}

func TestClassifyNormalizesSubLocality(t *testing.T) {
	// The model may answer with the district; it must map to the parent slug.
	f := &fakeLLM{content: `{"intent":"hotel","city":"tianhe","confidence":0.8}`}
	r := NewRouter(f, "test-model", zap.NewNop())

	cls := r.Classify(context.Background(), "hotel near Tianhe please")

	assert.Equal(t, "guangzhou", cls.City)
}

func TestClassifyFallsBackOnClassifierError(t *testing.T) {
	f := &fakeLLM{err: errors.New("quota exceeded")}
	r := NewRouter(f, "test-model", zap.NewNop())

	cls := r.Classify(context.Background(), "I need an airport pickup tomorrow")

	assert.Equal(t, model.IntentTransport, cls.Intent)
	assert.InDelta(t, 0.4, cls.Confidence, 0.001)
	assert.True(t, cls.Ordering)
}

func TestClassifyFallsBackOnMalformedOutput(t *testing.T) {
	f := &fakeLLM{content: "sure, that sounds like a hotel request"}
	r := NewRouter(f, "test-model", zap.NewNop())

	cls := r.Classify(context.Background(), "do you run any tours in Sanya?")

	require.Equal(t, model.IntentTour, cls.Intent)
	assert.Equal(t, "hainan", cls.City)
	assert.False(t, cls.Ordering)
}

func TestKeywordFallbackDefault(t *testing.T) {
	cls := keywordClassify("what's the weather like")
	assert.Equal(t, model.IntentGeneral, cls.Intent)
	assert.InDelta(t, 0.2, cls.Confidence, 0.001)
}

func TestShoppingSubIntent(t *testing.T) {
	f := &fakeLLM{content: `{"intent":"shopping","city":"guangzhou","confidence":0.9}`}
	r := NewRouter(f, "test-model", zap.NewNop())

	factory := r.Classify(context.Background(), "looking for a wholesale electronics supplier with low MOQ in Guangzhou")
	assert.Equal(t, model.SubIntentFactory, factory.SubIntent)

	retail := r.Classify(context.Background(), "where can I buy cheap souvenirs, any mall in Guangzhou?")
	assert.Equal(t, model.SubIntentRetail, retail.SubIntent)

	unknown := r.Classify(context.Background(), "I'm interested in electronics in Guangzhou")
	assert.Equal(t, model.SubIntentUnknown, unknown.SubIntent)
}

func TestOrderingDetection(t *testing.T) {
	assert.True(t, hasOrderingIntent("please book a room for me"))
	assert.True(t, hasOrderingIntent("can you arrange a driver"))
	assert.True(t, hasOrderingIntent("I need a tour guide"))

	assert.False(t, hasOrderingIntent("how much is a hotel usually?"))
	assert.False(t, hasOrderingIntent("what markets are open on sunday"))
}
