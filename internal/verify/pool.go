// Package verify fans claim-verification prompts out to the grounded
// generation model with bounded parallelism and a shared per-window rate
// limit.
//
// The pool preserves input order in its results and isolates per-task
// failures: a failed prompt leaves a nil slot and the siblings finish
// normally.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/verita-ai/verita/internal/log"
)

// DefaultWorkers is the parallelism used when Config.Workers is unset.
const DefaultWorkers = 8

// GenerateFunc performs one grounded generation call for a single prompt.
type GenerateFunc func(ctx context.Context, prompt string) (*genai.GenerateContentResponse, error)

// Config contains all required parameters for a Pool.
type Config struct {
	Limiter *Limiter
	Logger  log.Logger

	// Workers bounds concurrent generation calls. Default: DefaultWorkers.
	Workers int
}

func (cfg Config) validate() error {
	if cfg.Limiter == nil {
		return errors.New("limiter is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Pool executes verification prompts concurrently up to a worker limit.
// All workers share one Limiter, so hitting the per-window bound serializes
// the whole pool until the penalty sleep elapses.
//
// The generation call itself is passed per Generate invocation because it
// carries request-scoped state (system instruction, model binding).
type Pool struct {
	limiter *Limiter
	workers int
	logger  log.Logger
}

// NewPool creates a Pool with the given configuration.
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Pool{
		limiter: cfg.Limiter,
		workers: workers,
		logger:  cfg.Logger,
	}, nil
}

// Generate runs one generation call per prompt and returns a same-length
// slice whose i-th element corresponds to the i-th prompt regardless of
// completion order. A task that fails leaves its slot nil; the failure is
// logged, never propagated, and never cancels sibling tasks.
func (p *Pool) Generate(ctx context.Context, prompts []string, generate GenerateFunc) []*genai.GenerateContentResponse {
	results := make([]*genai.GenerateContentResponse, len(prompts))
	if len(prompts) == 0 || generate == nil {
		return results
	}

	workers := p.workers
	if workers > len(prompts) {
		workers = len(prompts)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := p.runOne(ctx, prompts[i], generate)
				if err != nil {
					p.logger.Warn("claim verification failed",
						"prompt_index", i,
						"error", err)
					continue
				}
				results[i] = res
			}
		}()
	}

	for i := range prompts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// runOne executes a single generation call behind the shared rate limiter.
// A panic in the generate func is contained to this task.
func (p *Pool) runOne(ctx context.Context, prompt string, generate GenerateFunc) (res *genai.GenerateContentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("generation panicked: %v", r)
		}
	}()

	p.limiter.Acquire()
	return generate(ctx, prompt)
}
