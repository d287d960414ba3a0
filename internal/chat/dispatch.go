package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/verita-ai/verita/internal/claims"
)

// Tool names the models may call.
const (
	ToolMedicalClaims     = "medical_claims_identification"
	ToolImpreciseLanguage = "imprecise_language_identification"
)

// toolKind is the closed set of dispatchable tools. The function-call name
// is decoded into a variant exactly once, at the dispatch boundary; handler
// logic never branches on raw strings.
type toolKind int

const (
	toolUnknown toolKind = iota
	toolClaims
	toolImprecise
)

func toolKindOf(name string) toolKind {
	switch name {
	case ToolMedicalClaims:
		return toolClaims
	case ToolImpreciseLanguage:
		return toolImprecise
	default:
		return toolUnknown
	}
}

// Next-step instructions sent back with successful tool responses.
const (
	instructionProceed = "Proceed"

	instructionAfterClaims = "Now perform imprecise language identification analysis."

	instructionAfterImprecise = "Respond that the input text has been processed and summarize the findings. " +
		"Ask if the user needs help understanding the findings or would like to know more " +
		"about any finding in particular."
)

// claimsArgs is the decoded argument shape of medical_claims_identification.
type claimsArgs struct {
	IdentifiedClaims []identifiedClaim `json:"identified_claims"`
}

type identifiedClaim struct {
	Claim string `json:"claim"`
}

// impreciseArgs is the decoded argument shape of
// imprecise_language_identification. The per-instance records stay
// free-form; only the envelope is typed.
type impreciseArgs struct {
	IdentifiedInstances []map[string]any `json:"identified_instances"`
}

// decodeArgs converts a function-call argument mapping into the tool's
// typed argument struct via one JSON round trip.
func decodeArgs(args map[string]any, into any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding tool arguments: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decoding tool arguments: %w", err)
	}
	return nil
}

// dispatch routes one model-emitted function call to its handler and wraps
// the outcome as a function-response part. A handler failure is recorded on
// the result and converted into an error-shaped response so sibling calls
// in the same round proceed.
func (o *Orchestrator) dispatch(ctx context.Context, req Request, res *Result, kind toolKind, call *genai.FunctionCall) *genai.Part {
	var payload map[string]any
	var err error

	switch kind {
	case toolClaims:
		payload, err = o.handleClaims(ctx, req, res, call.Args)
		if err != nil {
			err = fmt.Errorf("identifying medical claims: %w", err)
			payload = errorPayload(err, "Error occurred while identifying medical claims. Please try again.")
		}
	case toolImprecise:
		payload, err = o.handleImprecise(ctx, req, res, call.Args)
		if err != nil {
			err = fmt.Errorf("identifying imprecise language: %w", err)
			payload = errorPayload(err, "Error occurred while identifying imprecise language. Please try again.")
		}
	default:
		// The loop screens for unknown names before dispatching.
		err = fmt.Errorf("%w: %s", ErrUnresolvedFunction, call.Name)
		payload = errorPayload(err, "Unknown tool. Please answer directly.")
	}

	if err != nil {
		o.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		res.ToolErrors = append(res.ToolErrors, err)
	}

	return genai.NewPartFromFunctionResponse(call.Name, payload)
}

func errorPayload(err error, instructions string) map[string]any {
	return map[string]any{
		"error":        err.Error(),
		"instructions": instructions,
	}
}

// handleClaims runs the full verification round for one
// medical_claims_identification call: extract claims, fan out grounded
// verification, structure each result, assign identifiers, push a partial
// progress update, and answer the model.
func (o *Orchestrator) handleClaims(ctx context.Context, req Request, res *Result, args map[string]any) (map[string]any, error) {
	var decoded claimsArgs
	if err := decodeArgs(args, &decoded); err != nil {
		return nil, err
	}
	if req.VerificationPrompt == "" {
		return nil, ErrMissingVerificationPrompt
	}

	prompts := make([]string, len(decoded.IdentifiedClaims))
	for i, c := range decoded.IdentifiedClaims {
		prompts[i] = strings.ReplaceAll(req.VerificationPrompt, "{input_claim}", c.Claim)
	}

	outcomes := o.verifier.Verify(ctx, req.SystemInstruction, prompts)

	// Zip structured analyses back onto the original claim entries. A nil
	// outcome (failed verification task) yields an empty analysis, never a
	// hole in the claim list.
	processed := make([]VerifiedClaim, len(decoded.IdentifiedClaims))
	for i, c := range decoded.IdentifiedClaims {
		processed[i] = VerifiedClaim{
			ID:       uuid.NewString(),
			Claim:    c.Claim,
			Analysis: claims.Structure(outcomes[i]),
		}
	}
	res.Claims = processed

	o.pushProgress(ctx, req, res.SessionID, ProgressUpdate{Claims: processed})

	instruction := instructionProceed
	if req.EngageWorkflow {
		instruction = instructionAfterClaims
	}
	return map[string]any{
		"content":                "Processed all claims and generated analysis.",
		"processed_claims":       processed,
		"next_steps_instruction": instruction,
	}, nil
}

// handleImprecise assigns identifiers to the flagged instances, pushes a
// partial progress update, and answers the model.
func (o *Orchestrator) handleImprecise(ctx context.Context, req Request, res *Result, args map[string]any) (map[string]any, error) {
	var decoded impreciseArgs
	if err := decodeArgs(args, &decoded); err != nil {
		return nil, err
	}

	processed := make([]ImpreciseInstance, len(decoded.IdentifiedInstances))
	for i, details := range decoded.IdentifiedInstances {
		processed[i] = ImpreciseInstance{
			ID:      uuid.NewString(),
			Details: details,
		}
	}
	res.Instances = processed

	o.pushProgress(ctx, req, res.SessionID, ProgressUpdate{Instances: processed})

	instruction := instructionProceed
	if req.EngageWorkflow {
		instruction = instructionAfterImprecise
	}

	flattened := make([]map[string]any, len(processed))
	for i, inst := range processed {
		flattened[i] = inst.Flatten()
	}
	return map[string]any{
		"content":                                "Processed all imprecise language identified.",
		"processed_imprecise_language_instances": flattened,
		"next_steps_instruction":                 instruction,
	}, nil
}

// Flatten returns the instance record with the generated identifier folded
// in, the shape the model and clients see.
func (i ImpreciseInstance) Flatten() map[string]any {
	flat := make(map[string]any, len(i.Details)+1)
	for k, v := range i.Details {
		flat[k] = v
	}
	flat["id"] = i.ID
	return flat
}
