package chat

import (
	"context"

	"google.golang.org/genai"

	"github.com/verita-ai/verita/internal/claims"
)

// Phase is a stage in the conversation loop. It determines which model
// instance and tool-calling mode is active.
type Phase int

const (
	// PhaseClaimsIdentification is the opening phase: the claims model
	// inspects the user text for verifiable claims.
	PhaseClaimsIdentification Phase = iota

	// PhaseImpreciseLanguage follows the first tool round: the imprecise
	// language model inspects the text for vague or misleading phrasing.
	PhaseImpreciseLanguage

	// PhaseFreeForm is every later round: the tool-free terminal model
	// produces the final answer.
	PhaseFreeForm
)

func (p Phase) String() string {
	switch p {
	case PhaseClaimsIdentification:
		return "claims_identification"
	case PhaseImpreciseLanguage:
		return "imprecise_language"
	case PhaseFreeForm:
		return "free_form"
	default:
		return "unknown"
	}
}

// Attachment is a binary part of the user prompt. URI references an object
// already uploaded to storage; Data carries inline bytes when URI is empty.
type Attachment struct {
	URI  string
	MIME string
	Data []byte
}

// Request is one conversation turn submitted by a client.
type Request struct {
	UserID    string
	SessionID string // empty starts a new session
	Text      string

	Attachments []Attachment

	// SystemInstruction and VerificationPrompt come from the prompt/config
	// source; VerificationPrompt is a template with an {input_claim}
	// placeholder filled per claim.
	SystemInstruction  string
	VerificationPrompt string

	// EngageWorkflow forces the phase tools: the claims model must call
	// medical_claims_identification and the imprecise-language model must
	// call imprecise_language_identification. When false the models choose
	// freely.
	EngageWorkflow bool

	// StyleMode influences output tone; it is passed through to the
	// progress sink and never interpreted here.
	StyleMode string

	// SaveHistory controls whether the session turns are persisted after
	// the run.
	SaveHistory bool
}

// VerifiedClaim is one claim with its grounded analysis. The identifier is
// assigned exactly once, before the claim is surfaced or persisted.
type VerifiedClaim struct {
	ID    string `json:"id"`
	Claim string `json:"claim"`
	claims.Analysis
}

// ImpreciseInstance is one flagged imprecise-language finding. Details is
// the model's free-form instance record.
type ImpreciseInstance struct {
	ID      string         `json:"id"`
	Details map[string]any `json:"details"`
}

// Result is the outcome of one orchestrator run.
type Result struct {
	FinalText string
	SessionID string

	Claims    []VerifiedClaim
	Instances []ImpreciseInstance

	// ToolErrors collects per-tool-call failures that were recovered into
	// error-shaped tool responses. Rendered for display only at the
	// boundary, never concatenated into FinalText here.
	ToolErrors []error
}

// ChatParams carries the per-request settings a phase model instance is
// built with.
type ChatParams struct {
	SystemInstruction string
	Engaged           bool
	History           []*genai.Content
}

// ModelChat is one stateful conversation with a model instance.
type ModelChat interface {
	// Send delivers parts to the model and returns its next response.
	Send(ctx context.Context, parts ...*genai.Part) (*genai.GenerateContentResponse, error)

	// History returns the conversation so far, including the latest
	// exchange.
	History() []*genai.Content
}

// Models provides the phase-specific model instances for one request.
type Models interface {
	ClaimsChat(ctx context.Context, p ChatParams) (ModelChat, error)
	ImpreciseChat(ctx context.Context, p ChatParams) (ModelChat, error)
	TerminalChat(ctx context.Context, p ChatParams) (ModelChat, error)
}

// Verifier fans claim-verification prompts out to the grounded model and
// returns order-preserving results with nil slots for failed prompts.
type Verifier interface {
	Verify(ctx context.Context, systemInstruction string, prompts []string) []*genai.GenerateContentResponse
}

// HistoryStore persists conversation turns between requests.
type HistoryStore interface {
	// Load returns the stored turns, or an empty slice when the session is
	// unknown.
	Load(ctx context.Context, userID, sessionID string) ([]*genai.Content, error)
	Save(ctx context.Context, userID, sessionID string, turns []*genai.Content) error
}

// ProgressUpdate is one partial or final state push to the client-facing
// store. Only populated fields are written; updates are idempotent upserts
// keyed by the generated identifiers.
type ProgressUpdate struct {
	UserID    string
	SessionID string
	StyleMode string

	OutputText string
	Claims     []VerifiedClaim
	Instances  []ImpreciseInstance

	Final bool
}

// ProgressSink receives incremental results so clients can display progress
// before the final answer is ready. Calls are fire-and-forget from the
// orchestrator's perspective.
type ProgressSink interface {
	Update(ctx context.Context, u ProgressUpdate) error
}
