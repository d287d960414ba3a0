package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/verita-ai/verita/internal/chat"
	"github.com/verita-ai/verita/internal/verify"
)

// DeclarationSource supplies the function declarations the conversation
// models may call. Declarations live in remote configuration so prompt
// owners can evolve tool schemas without a deploy.
type DeclarationSource interface {
	FunctionDeclarations(ctx context.Context) ([]*genai.FunctionDeclaration, error)
}

// WorkflowConfig contains all required parameters for a Workflow.
type WorkflowConfig struct {
	Client       *Client
	Declarations DeclarationSource
	Pool         *verify.Pool
}

func (cfg WorkflowConfig) validate() error {
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	if cfg.Declarations == nil {
		return errors.New("declaration source is required")
	}
	if cfg.Pool == nil {
		return errors.New("verification pool is required")
	}
	return nil
}

// Workflow builds the per-phase model instances the conversation engine
// drives, and runs grounded verification through the worker pool. It
// implements both the engine's model factory and its verifier.
type Workflow struct {
	client       *Client
	declarations DeclarationSource
	pool         *verify.Pool
}

// NewWorkflow creates a Workflow with the given configuration.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Workflow{
		client:       cfg.Client,
		declarations: cfg.Declarations,
		pool:         cfg.Pool,
	}, nil
}

// ClaimsChat returns a model instance for the opening phase. When the
// workflow is engaged the model is forced to call the claims tool; in
// free-form mode it decides on its own.
func (w *Workflow) ClaimsChat(ctx context.Context, p chat.ChatParams) (chat.ModelChat, error) {
	return w.phaseChat(ctx, p, chat.ToolMedicalClaims)
}

// ImpreciseChat returns a model instance for the second phase, forced onto
// the imprecise-language tool when the workflow is engaged.
func (w *Workflow) ImpreciseChat(ctx context.Context, p chat.ChatParams) (chat.ModelChat, error) {
	return w.phaseChat(ctx, p, chat.ToolImpreciseLanguage)
}

// TerminalChat returns a tool-free model instance for composing the final
// answer.
func (w *Workflow) TerminalChat(ctx context.Context, p chat.ChatParams) (chat.ModelChat, error) {
	cfg := w.client.generateConfig(p.SystemInstruction)
	return w.create(ctx, cfg, p.History)
}

func (w *Workflow) phaseChat(ctx context.Context, p chat.ChatParams, tool string) (chat.ModelChat, error) {
	decls, err := w.declarations.FunctionDeclarations(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading function declarations: %w", err)
	}

	cfg := w.client.generateConfig(p.SystemInstruction)
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	if p.Engaged {
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{tool},
			},
		}
	} else {
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}
	return w.create(ctx, cfg, p.History)
}

func (w *Workflow) create(ctx context.Context, cfg *genai.GenerateContentConfig, history []*genai.Content) (chat.ModelChat, error) {
	session, err := w.client.genai.Chats.Create(ctx, w.client.chatModel, cfg, history)
	if err != nil {
		return nil, fmt.Errorf("creating chat session: %w", err)
	}
	return &chatHandle{session: session}, nil
}

// Verify fans the prompts out across the worker pool. Each task runs a
// single-shot generation grounded by web search, so the responses carry
// the grounding metadata the structurer consumes. A nil entry marks a
// prompt whose task failed.
func (w *Workflow) Verify(ctx context.Context, systemInstruction string, prompts []string) []*genai.GenerateContentResponse {
	cfg := w.client.generateConfig(systemInstruction)
	cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}

	return w.pool.Generate(ctx, prompts, func(ctx context.Context, prompt string) (*genai.GenerateContentResponse, error) {
		contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
		res, err := w.client.genai.Models.GenerateContent(ctx, w.client.verifyModel, contents, cfg)
		if err != nil {
			return nil, fmt.Errorf("grounded generation: %w", err)
		}
		return res, nil
	})
}

// chatHandle adapts a live chat session to the engine's model interface.
type chatHandle struct {
	session *genai.Chat
}

func (h *chatHandle) Send(ctx context.Context, parts ...*genai.Part) (*genai.GenerateContentResponse, error) {
	deref := make([]genai.Part, len(parts))
	for i, p := range parts {
		deref[i] = *p
	}
	return h.session.SendMessage(ctx, deref...)
}

// History returns the comprehensive session transcript, including any
// turns the service considers invalid, so persistence never drops turns.
func (h *chatHandle) History() []*genai.Content {
	return h.session.History(false)
}
