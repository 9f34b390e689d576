package extraction

import (
	"context"

	"github.com/vulndash/vulndash/internal/llm"
	"github.com/vulndash/vulndash/internal/llmjson"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/telemetry"
)

// generator is the subset of llm.Gateway the engine needs. Accepting the
// interface rather than *llm.Gateway keeps the engine testable without a
// live provider chain.
type generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (*llm.GenerateResult, error)
}

// Engine turns raw feed text into a routed, confidence-scored Result. It is
// stateless: for a fixed (raw text, provider output) pair its output is
// deterministic. It never returns an error to the caller — every failure
// mode is encoded as a low-confidence Result with NeedsReview true, per the
// system's "contain failures in status fields, not exceptions" policy.
type Engine struct {
	gateway   generator
	threshold float64
	log       *logger.Logger
	tracer    *telemetry.Provider
}

// NewEngine builds an extraction engine backed by gateway, routing results
// with confidence below threshold to the review queue. tracer may be nil,
// in which case Extract skips span creation entirely.
func NewEngine(gateway generator, threshold float64, log *logger.Logger, tracer *telemetry.Provider) *Engine {
	if threshold <= 0 {
		threshold = 0.80
	}
	return &Engine{gateway: gateway, threshold: threshold, log: log.WithComponent("extraction-engine"), tracer: tracer}
}

// Extract runs the full pipeline: prompt construction, generation via the
// gateway, JSON coercion, hard validation, confidence scoring, and routing.
func (e *Engine) Extract(ctx context.Context, rawText string) Result {
	if len(rawText) == 0 {
		return fallbackExtract(rawText)
	}

	var span *telemetry.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "extraction.extract")
		defer span.End()
	}

	genResult, err := e.gateway.Generate(ctx, systemPrompt, buildUserPrompt(rawText))
	if err != nil {
		e.log.WarnContext(ctx, "llm gateway exhausted; using regex fallback", "error", err)
		if span != nil {
			span.SetError(err)
		}
		return fallbackExtract(rawText)
	}
	if span != nil {
		span.SetOK()
	}

	extracted, err := llmjson.ExtractJSON[rawExtraction](genResult.Text)
	if err != nil {
		e.log.WarnContext(ctx, "failed to coerce model output into JSON; using regex fallback", "error", err)
		fb := fallbackExtract(rawText)
		fb.Provider = genResult.Provider
		fb.Model = genResult.Model
		return fb
	}

	v := validate(extracted.Value, rawText)
	conf := score(v, genResult.AttemptIndex)

	result := Result{
		CVEID:              v.cveID,
		Title:              v.title,
		Description:        v.description,
		Vendor:             v.vendor,
		Product:            v.product,
		Severity:           v.severity,
		CVSSScore:          v.cvssScore,
		CVSSVector:         v.cvssVector,
		Confidence:         conf,
		NeedsReview:        conf < e.threshold,
		Provider:           genResult.Provider,
		Model:              genResult.Model,
		FallbackAttempt:    genResult.AttemptIndex,
		ValidationWarnings: v.warnings,
	}

	return result
}
