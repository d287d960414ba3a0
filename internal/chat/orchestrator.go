// Package chat implements the agentic conversation orchestration engine.
//
// One Orchestrator run drives several generative-model instances through
// phases: the claims model opens the conversation, tool calls it emits are
// dispatched to handlers (claim verification fans out through the worker
// pool, imprecise-language findings are tagged and persisted), and tool
// responses are routed back to the phase-appropriate model until a response
// arrives with no function call, which becomes the final answer.
//
// The orchestrator is strictly sequential per conversation: one outstanding
// model call at a time, no shared mutable state across requests.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/verita-ai/verita/internal/log"
)

const tracerName = "github.com/verita-ai/verita/internal/chat"

// apologyMessage prefixes the terminal answer when the loop dies on a
// transport failure.
const apologyMessage = "Please try again. An unexpected error occurred."

// unresolvedFunctionMessage is the terminal answer when the model calls a
// tool nobody registered.
const unresolvedFunctionMessage = "Could not resolve appropriate function and determine an answer."

// Config contains all required parameters for an Orchestrator.
type Config struct {
	Models   Models
	Verifier Verifier
	History  HistoryStore
	Progress ProgressSink
	Logger   log.Logger

	// Limiter proactively paces top-level model sends.
	// nil uses a default of 10 req/s with a burst of 30.
	Limiter *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Models == nil {
		return errors.New("models are required")
	}
	if cfg.Verifier == nil {
		return errors.New("verifier is required")
	}
	if cfg.History == nil {
		return errors.New("history store is required")
	}
	if cfg.Progress == nil {
		return errors.New("progress sink is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Orchestrator is the top-level conversation state machine. It is stateless
// across requests and safe to share; all per-run state lives on the stack
// of Run.
type Orchestrator struct {
	models   Models
	verifier Verifier
	history  HistoryStore
	progress ProgressSink
	logger   log.Logger
	limiter  *rate.Limiter
	tracer   trace.Tracer
}

// New creates an Orchestrator with the given configuration.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	return &Orchestrator{
		models:   cfg.Models,
		verifier: cfg.Verifier,
		history:  cfg.History,
		progress: cfg.Progress,
		logger:   cfg.Logger,
		limiter:  limiter,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Run executes one full conversation turn and returns the final answer,
// the session identifier, and whatever claims or instances were processed
// along the way.
//
// Transport failures do not surface as errors: the loop stops, the final
// answer becomes an apology embedding the failure, and the session history
// accumulated so far is still persisted. Only precondition failures (bad
// request, unbuildable model instance) return a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "chat.Run",
		trace.WithAttributes(attribute.Bool("workflow.engaged", req.EngageWorkflow)))
	defer span.End()

	res := &Result{SessionID: req.SessionID}

	var history []*genai.Content
	if req.SessionID != "" {
		loaded, err := o.history.Load(ctx, req.UserID, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}
		history = loaded
	} else {
		res.SessionID = uuid.NewString()
	}

	active, err := o.models.ClaimsChat(ctx, ChatParams{
		SystemInstruction: req.SystemInstruction,
		Engaged:           req.EngageWorkflow,
		History:           history,
	})
	if err != nil {
		return nil, fmt.Errorf("building claims model: %w", err)
	}

	o.logger.Debug("starting conversation run",
		"session_id", res.SessionID,
		"engaged", req.EngageWorkflow,
		"history_turns", len(history))

	turn, err := o.send(ctx, active, promptParts(req)...)
	if err == nil {
		active, err = o.loop(ctx, req, res, active, turn)
	}
	if err != nil {
		// Transport failures terminate with an apology; history accumulated
		// so far is still persisted below.
		o.logger.Error("conversation run aborted", "session_id", res.SessionID, "error", err)
		span.RecordError(err)
		res.FinalText = fmt.Sprintf("%s %v", apologyMessage, err)
	}

	if req.SaveHistory {
		if err := o.history.Save(ctx, req.UserID, res.SessionID, active.History()); err != nil {
			o.logger.Warn("saving session history", "session_id", res.SessionID, "error", err)
		}
	}

	o.pushProgress(ctx, req, res.SessionID, ProgressUpdate{
		OutputText: res.FinalText,
		Final:      true,
	})

	return res, nil
}

// loop is the tool-calling round trip. It consumes model responses until
// one carries a part with no function call (terminal text) and routes tool
// responses by round: the first round goes to the imprecise-language model,
// every later round to the tool-free terminal model.
//
// There is no round cap. If the terminal model itself emitted a function
// call the routing has no further rule: round >= 1 keeps targeting the
// terminal model and an unknown tool name falls through to the unresolved
// terminal text. That open edge is inherited from the workflow design and
// deliberately not papered over here.
func (o *Orchestrator) loop(ctx context.Context, req Request, res *Result, active ModelChat, turn *genai.GenerateContentResponse) (ModelChat, error) {
	round := 0
	phase := PhaseClaimsIdentification

	for {
		parts := responseParts(turn)

		var toolResponses []*genai.Part
		terminal := false
		for _, part := range parts {
			if part.FunctionCall == nil {
				// Direct text response ends the conversation.
				res.FinalText = part.Text
				terminal = true
				break
			}

			kind := toolKindOf(part.FunctionCall.Name)
			if kind == toolUnknown {
				o.logger.Warn("unresolved function call",
					"session_id", res.SessionID,
					"tool", part.FunctionCall.Name)
				res.ToolErrors = append(res.ToolErrors,
					fmt.Errorf("%w: %s", ErrUnresolvedFunction, part.FunctionCall.Name))
				res.FinalText = unresolvedFunctionMessage
				terminal = true
				break
			}

			o.logger.Info("dispatching tool call",
				"session_id", res.SessionID,
				"phase", phase.String(),
				"tool", part.FunctionCall.Name)
			toolResponses = append(toolResponses, o.dispatch(ctx, req, res, kind, part.FunctionCall))
		}
		if terminal {
			return active, nil
		}
		if len(toolResponses) == 0 {
			// A response with no parts at all. Treat as empty terminal text.
			return active, nil
		}

		next, err := o.route(ctx, req, round, active.History())
		if err != nil {
			return active, err
		}
		if round == 0 {
			phase = PhaseImpreciseLanguage
		} else {
			phase = PhaseFreeForm
		}
		round++

		active = next
		turn, err = o.send(ctx, active, toolResponses...)
		if err != nil {
			return active, err
		}
	}
}

// route picks the model instance that receives this round's tool responses:
// the imprecise-language model after round 0, the terminal model afterwards.
func (o *Orchestrator) route(ctx context.Context, req Request, round int, history []*genai.Content) (ModelChat, error) {
	p := ChatParams{
		SystemInstruction: req.SystemInstruction,
		Engaged:           req.EngageWorkflow,
		History:           history,
	}
	if round == 0 {
		next, err := o.models.ImpreciseChat(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("building imprecise-language model: %w", err)
		}
		return next, nil
	}
	next, err := o.models.TerminalChat(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("building terminal model: %w", err)
	}
	return next, nil
}

// send delivers parts to the active model behind the proactive limiter.
func (o *Orchestrator) send(ctx context.Context, active ModelChat, parts ...*genai.Part) (*genai.GenerateContentResponse, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, span := o.tracer.Start(ctx, "chat.send")
	defer span.End()

	turn, err := active.Send(ctx, parts...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("model send: %w", err)
	}
	return turn, nil
}

// pushProgress performs a fire-and-forget update to the progress sink.
func (o *Orchestrator) pushProgress(ctx context.Context, req Request, sessionID string, u ProgressUpdate) {
	u.UserID = req.UserID
	u.SessionID = sessionID
	u.StyleMode = req.StyleMode
	if err := o.progress.Update(ctx, u); err != nil {
		o.logger.Warn("progress update failed", "session_id", sessionID, "error", err)
	}
}

// promptParts builds the opening message: the user text plus any binary
// attachments, either as storage references or inline bytes.
func promptParts(req Request) []*genai.Part {
	parts := []*genai.Part{genai.NewPartFromText(req.Text)}
	for _, att := range req.Attachments {
		if att.URI != "" {
			parts = append(parts, genai.NewPartFromURI(att.URI, att.MIME))
			continue
		}
		if len(att.Data) > 0 {
			parts = append(parts, genai.NewPartFromBytes(att.Data, att.MIME))
		}
	}
	return parts
}

// responseParts returns the ordered content parts of the first candidate.
func responseParts(res *genai.GenerateContentResponse) []*genai.Part {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return nil
	}
	return res.Candidates[0].Content.Parts
}
