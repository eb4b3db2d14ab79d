package services

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	config := LoadConfig()

	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, "https://api.groq.com/openai/v1", config.Groq.BaseURL)
	assert.Equal(t, []string{
		"llama-3.1-8b-instant",
		"llama-3.3-70b-versatile",
		"openai/gpt-oss-120b",
		"openai/gpt-oss-20b",
	}, config.Council.Models)
	assert.Equal(t, "llama-3.3-70b-versatile", config.Council.Synthesizer)
	assert.Equal(t, "groq/compound-mini", config.Council.TitleModel)
	assert.Equal(t, 6, config.Council.ContextWindow)
	assert.Equal(t, 120*time.Second, config.Council.CallTimeout)
	assert.Equal(t, 2048, config.Council.MaxTokens)
	assert.InDelta(t, 0.7, float64(config.Council.Temperature), 0.001)
	assert.True(t, config.Council.SelfRanking)
}

func TestSplitModels(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitModels("a, b"))
	assert.Equal(t, []string{"solo"}, splitModels("solo"))
	assert.Empty(t, splitModels(" , ,"))
}
