// Package gemini backs the conversation engine with Google generative
// models. It owns client construction, per-phase chat configuration, and
// the grounded verification fan-out.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/verita-ai/verita/internal/log"
)

// Default model assignments. The chat model drives the conversation phases
// and the verification model runs search-grounded claim checks.
const (
	DefaultChatModel   = "gemini-2.5-pro"
	DefaultVerifyModel = "gemini-2.5-flash"
)

const defaultTemperature = 0.2

// Config contains all required parameters for a Client.
type Config struct {
	// APIKey selects the Gemini API backend. Leave empty and set Project
	// and Location for Vertex AI.
	APIKey   string
	Project  string
	Location string

	ChatModel   string
	VerifyModel string

	// Temperature applies to every call. Zero means the service default.
	Temperature     float32
	MaxOutputTokens int32

	Logger log.Logger
}

func (cfg Config) validate() error {
	if cfg.APIKey == "" && (cfg.Project == "" || cfg.Location == "") {
		return errors.New("either api key or project and location are required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Client wraps the generative model service with the project's model and
// generation defaults.
type Client struct {
	genai       *genai.Client
	chatModel   string
	verifyModel string
	temperature float32
	maxTokens   int32
	logger      log.Logger
}

// NewClient creates a Client with the given configuration.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	} else {
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	c := &Client{
		genai:       client,
		chatModel:   cfg.ChatModel,
		verifyModel: cfg.VerifyModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxOutputTokens,
		logger:      cfg.Logger,
	}
	if c.chatModel == "" {
		c.chatModel = DefaultChatModel
	}
	if c.verifyModel == "" {
		c.verifyModel = DefaultVerifyModel
	}
	if c.temperature == 0 {
		c.temperature = defaultTemperature
	}
	return c, nil
}

// safetySettings disables response blocking across every harm category.
// Medical text trips the default thresholds constantly; filtering is
// handled upstream by the system instructions instead.
func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, len(categories))
	for i, cat := range categories {
		settings[i] = &genai.SafetySetting{
			Category:  cat,
			Threshold: genai.HarmBlockThresholdBlockNone,
		}
	}
	return settings
}

// generateConfig assembles the shared generation parameters. Callers add
// tools and tool configuration on top.
func (c *Client) generateConfig(systemInstruction string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(c.temperature),
		SafetySettings: safetySettings(),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	return cfg
}
