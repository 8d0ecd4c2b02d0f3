package llm

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/basket/pocvault/internal/fault"
)

// ClientConfig selects the provider and the two models used by the staged
// pipeline.
type ClientConfig struct {
	// Provider is the LLM provider: "google", "anthropic", "openai",
	// "openai_compatible". Empty defaults to "google".
	Provider string

	// GenerateModel drafts and revises artifacts; ReviewModel critiques them.
	GenerateModel string
	ReviewModel   string

	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// Client implements Generator on top of Genkit. Without an API key the client
// still constructs, but every call reports UPSTREAM_FAILURE, keeping catalog
// and execution operations usable offline.
type Client struct {
	g             *genkit.Genkit
	provider      string
	generateModel string
	reviewModel   string
	logger        *slog.Logger
	llmOn         bool
}

func NewClient(ctx context.Context, cfg ClientConfig) *Client {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			llmOn = true
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			llmOn = true
		}
	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai_compatible",
				APIKey:   apiKey,
				BaseURL:  cfg.BaseURL,
			}))
			llmOn = true
		}
	default: // google
		provider = "google"
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+cfg.GenerateModel),
			)
			llmOn = true
		}
	}
	if g == nil {
		g = genkit.Init(ctx)
		logger.Warn("LLM API key missing; generation calls will fail", "provider", provider)
	} else {
		logger.Info("generation collaborator initialized",
			"provider", provider,
			"generate_model", cfg.GenerateModel,
			"review_model", cfg.ReviewModel)
	}

	return &Client{
		g:             g,
		provider:      provider,
		generateModel: cfg.GenerateModel,
		reviewModel:   cfg.ReviewModel,
		logger:        logger,
		llmOn:         llmOn,
	}
}

func (c *Client) modelName(model string) string {
	switch c.provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible":
		return model
	default:
		return "googleai/" + model
	}
}

func (c *Client) generate(ctx context.Context, model, system, prompt string) (string, error) {
	if !c.llmOn {
		return "", fault.New(fault.KindUpstreamFailure, "no API key configured for provider %q", c.provider)
	}
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName(model)),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamFailure, err, "generate with %s", model)
	}
	return resp.Text(), nil
}

// Produce drafts an artifact for a vulnerability task.
func (c *Client) Produce(ctx context.Context, task string) (*Artifact, error) {
	text, err := c.generate(ctx, c.generateModel, produceSystem, producePrompt(task))
	if err != nil {
		return nil, err
	}
	artifact, err := ParseArtifact(text)
	if err != nil {
		return nil, err
	}
	c.logger.Info("artifact drafted",
		"category", artifact.Category,
		"automatable", artifact.Automatable,
		"kind", string(artifact.Kind))
	return artifact, nil
}

// Review returns free-form critique of a draft document.
func (c *Client) Review(ctx context.Context, doc string) (string, error) {
	text, err := c.generate(ctx, c.reviewModel, reviewSystem, reviewPrompt(doc))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fault.New(fault.KindUpstreamFailure, "review response is empty")
	}
	return text, nil
}

// Revise produces the final artifact from a draft plus its review notes.
func (c *Client) Revise(ctx context.Context, doc string) (*Artifact, error) {
	text, err := c.generate(ctx, c.generateModel, produceSystem, revisePrompt(doc))
	if err != nil {
		return nil, err
	}
	return ParseArtifact(text)
}
