// Package promptcfg loads prompts and tool schemas from remote
// configuration. Prompt owners edit system instructions, verification
// templates, and function declarations without a deploy; the service
// fetches the published template over REST, resolves file references
// against the shared prompt objects in Cloud Storage, and caches both.
package promptcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"google.golang.org/genai"

	"github.com/verita-ai/verita/internal/chat"
	"github.com/verita-ai/verita/internal/log"
)

// ErrConfigurationMissing marks a parameter the published template does
// not define.
var ErrConfigurationMissing = errors.New("configuration parameter missing")

// Parameters live under the Prompts group of the template.
const groupPrompts = "Prompts"

// Well-known parameter keys.
const (
	KeySystemInstruction  = "role_prompt"
	KeyVerificationPrompt = "verification_prompt"

	keyClaimsDescription    = "identify_medical_claims_multi_function_description"
	keyClaimsParameters     = "identify_medical_claims_multi_function_parameters"
	keyImpreciseDescription = "identify_imprecise_language_multi_function_description"
	keyImpreciseParameters  = "identify_imprecise_language_multi_function_parameters"
)

const (
	defaultBaseURL = "https://firebaseremoteconfig.googleapis.com"
	defaultTTL     = time.Hour

	cacheKeyParameters = "parameters"
	cachePrefixPrompt  = "prompt:"
)

// PromptFiles fetches shared prompt file contents by name.
type PromptFiles interface {
	PromptFile(ctx context.Context, name string) (string, error)
}

// Config contains all required parameters for a Service.
type Config struct {
	Project     string
	TokenSource oauth2.TokenSource
	Files       PromptFiles
	Logger      log.Logger

	// BaseURL overrides the remote configuration endpoint. Test use only.
	BaseURL string

	// TTL bounds how stale a cached template may get. Zero means one hour.
	TTL time.Duration
}

func (cfg Config) validate() error {
	if cfg.Project == "" {
		return errors.New("project is required")
	}
	if cfg.TokenSource == nil {
		return errors.New("token source is required")
	}
	if cfg.Files == nil {
		return errors.New("prompt files are required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Service fetches and caches the published configuration template.
type Service struct {
	project string
	baseURL string
	client  *http.Client
	files   PromptFiles
	cache   *gocache.Cache
	logger  log.Logger
}

// New creates a Service with the given configuration.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}

	return &Service{
		project: cfg.Project,
		baseURL: baseURL,
		client:  oauth2.NewClient(ctx, cfg.TokenSource),
		files:   cfg.Files,
		cache:   gocache.New(ttl, 2*ttl),
		logger:  cfg.Logger,
	}, nil
}

// PromptText returns the resolved text of a parameter in the Prompts
// group. A parameter whose value names a fileName is indirect; the text
// is fetched from the shared prompt objects and cached. Any other value
// is returned as is.
func (s *Service) PromptText(ctx context.Context, key string) (string, error) {
	params, err := s.parameters(ctx)
	if err != nil {
		return "", err
	}
	value, ok := params[groupPrompts+":"+key]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrConfigurationMissing, key)
	}

	var ref struct {
		FileName string `json:"fileName"`
	}
	if err := json.Unmarshal([]byte(value), &ref); err != nil || ref.FileName == "" {
		return value, nil
	}
	return s.promptFile(ctx, ref.FileName)
}

// FunctionDeclarations builds the two workflow tool declarations from
// their configured description and parameter-schema texts.
func (s *Service) FunctionDeclarations(ctx context.Context) ([]*genai.FunctionDeclaration, error) {
	imprecise, err := s.functionDeclaration(ctx, chat.ToolImpreciseLanguage, keyImpreciseDescription, keyImpreciseParameters)
	if err != nil {
		return nil, err
	}
	claims, err := s.functionDeclaration(ctx, chat.ToolMedicalClaims, keyClaimsDescription, keyClaimsParameters)
	if err != nil {
		return nil, err
	}
	return []*genai.FunctionDeclaration{imprecise, claims}, nil
}

func (s *Service) functionDeclaration(ctx context.Context, name, descriptionKey, parametersKey string) (*genai.FunctionDeclaration, error) {
	description, err := s.PromptText(ctx, descriptionKey)
	if err != nil {
		return nil, err
	}
	raw, err := s.PromptText(ctx, parametersKey)
	if err != nil {
		return nil, err
	}

	var parameters genai.Schema
	if err := json.Unmarshal([]byte(raw), &parameters); err != nil {
		return nil, fmt.Errorf("decoding parameters for %s: %w", name, err)
	}
	return &genai.FunctionDeclaration{
		Name:        name,
		Description: description,
		Parameters:  &parameters,
	}, nil
}

// promptFile returns the contents of a shared prompt object, served from
// cache while the TTL holds.
func (s *Service) promptFile(ctx context.Context, name string) (string, error) {
	if cached, ok := s.cache.Get(cachePrefixPrompt + name); ok {
		return cached.(string), nil
	}

	text, err := s.files.PromptFile(ctx, name)
	if err != nil {
		return "", fmt.Errorf("fetching prompt file %s: %w", name, err)
	}
	s.cache.SetDefault(cachePrefixPrompt+name, text)
	return text, nil
}

// remoteTemplate mirrors the REST response shape: parameters nested in
// named groups, each entry carrying its value under defaultValue.
type remoteTemplate struct {
	ParameterGroups map[string]struct {
		Parameters map[string]struct {
			DefaultValue struct {
				Value string `json:"value"`
			} `json:"defaultValue"`
		} `json:"parameters"`
	} `json:"parameterGroups"`
}

// parameters returns the template's values keyed by "group:key", served
// from cache while the TTL holds.
func (s *Service) parameters(ctx context.Context) (map[string]string, error) {
	if cached, ok := s.cache.Get(cacheKeyParameters); ok {
		return cached.(map[string]string), nil
	}

	url := fmt.Sprintf("%s/v1/projects/%s/remoteConfig", s.baseURL, s.project)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building configuration request: %w", err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching configuration: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching configuration: unexpected status %s", res.Status)
	}

	var template remoteTemplate
	if err := json.NewDecoder(res.Body).Decode(&template); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	params := make(map[string]string)
	for groupName, group := range template.ParameterGroups {
		for key, p := range group.Parameters {
			params[groupName+":"+key] = p.DefaultValue.Value
		}
	}

	s.cache.SetDefault(cacheKeyParameters, params)
	s.logger.Debug("refreshed remote configuration", "parameters", len(params))
	return params, nil
}
