// Package translator drives the sequence of remote translation calls for a
// segmented document: one call per chunk, constrained by the glossary terms
// found in that chunk, with credential rotation and backoff under rate
// limits. Processing is strictly sequential so output order is
// deterministic and per-credential rate budgets stay predictable.
package translator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"doctrans/internal/glossary"
	"doctrans/internal/segmenter"

	"github.com/sashabaranov/go-openai"
)

// FailedMarker is the in-band sentinel stored as the translation of a chunk
// whose remote call failed terminally. The batch never aborts on it.
const FailedMarker = "[translation failed]"

// TranslatedChunk is a Chunk promoted with its translation result. Exactly
// one is produced per input chunk, in the same position order.
type TranslatedChunk struct {
	segmenter.Chunk
	Translation  string           `json:"translation"`
	MatchedTerms []glossary.Match `json:"matched_terms,omitempty"`
	NewTerms     []string         `json:"new_terms,omitempty"`
	Failed       bool             `json:"failed,omitempty"`
}

// Result is what one successful remote call returns: the translated text
// and any new terminology the model flagged as absent from the glossary.
type Result struct {
	Translation string   `json:"translation"`
	NewTerms    []string `json:"new_terms,omitempty"`
}

// Engine is the remote translation call. terms carries the mandated
// source → target pairs that occur in text.
type Engine interface {
	Translate(ctx context.Context, apiKey, text string, terms []glossary.Match) (Result, error)
}

// ProgressFunc fires after every completed chunk.
type ProgressFunc func(done, total int)

// StatusEvent reports a rotation or backoff decision for live visibility.
type StatusEvent struct {
	Kind     string        `json:"kind"` // "rotate", "backoff", "chunk_failed"
	Position int           `json:"position"`
	KeyIndex int           `json:"key_index"`
	Retry    int           `json:"retry"`
	Delay    time.Duration `json:"delay"`
}

type StatusFunc func(StatusEvent)

// BatchResult is the outcome of one complete run.
type BatchResult struct {
	Chunks   []TranslatedChunk `json:"chunks"`
	Failed   int               `json:"failed"`
	Coverage float64           `json:"coverage"`
}

// Orchestrator issues the per-chunk calls. The key pool and its cursor are
// the only shared mutable state; only the rotation step here touches them.
type Orchestrator struct {
	Engine Engine
	Pool   *KeyPool

	BaseDelay      time.Duration // backoff base, default 3s
	InterCallDelay time.Duration // pause between successful calls, default 2s
	CallTimeout    time.Duration // per-call ceiling, default 120s
	MaxRetries     int           // backoff cycles before terminal failure, default 5

	Progress ProgressFunc
	Status   StatusFunc

	sleep func(time.Duration) // stubbed in tests
}

func New(engine Engine, pool *KeyPool) *Orchestrator {
	return &Orchestrator{
		Engine:         engine,
		Pool:           pool,
		BaseDelay:      3 * time.Second,
		InterCallDelay: 2 * time.Second,
		CallTimeout:    120 * time.Second,
		MaxRetries:     5,
		sleep:          time.Sleep,
	}
}

// Run translates every chunk in position order. A failed chunk yields a
// TranslatedChunk carrying FailedMarker; the batch always produces exactly
// one output per input. Only an unusable glossary blocks the run up front.
func (o *Orchestrator) Run(ctx context.Context, chunks []segmenter.Chunk, g *glossary.Glossary) (*BatchResult, error) {
	if g == nil || len(g.Entries) == 0 {
		return nil, glossary.ErrEmpty
	}
	if o.Pool == nil || o.Pool.Len() == 0 {
		return nil, ErrNoKeys
	}
	if o.sleep == nil {
		o.sleep = time.Sleep
	}

	out := make([]TranslatedChunk, 0, len(chunks))
	matched := make(map[string]bool)
	failed := 0

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		terms := g.IdentifyTerms(chunk.Text)
		for _, m := range terms {
			matched[strings.ToLower(m.English)] = true
		}

		res, err := o.translateChunk(ctx, chunk, terms)
		tc := TranslatedChunk{
			Chunk:        chunk,
			MatchedTerms: terms,
		}
		if err != nil {
			log.Printf("chunk %d failed terminally: %v", chunk.Position, err)
			tc.Translation = FailedMarker
			tc.Failed = true
			failed++
			o.emitStatus(StatusEvent{Kind: "chunk_failed", Position: chunk.Position, KeyIndex: o.Pool.Index()})
		} else {
			tc.Translation = res.Translation
			tc.NewTerms = res.NewTerms
		}
		out = append(out, tc)

		if o.Progress != nil {
			o.Progress(len(out), len(chunks))
		}
		if err == nil && i < len(chunks)-1 && o.InterCallDelay > 0 {
			o.sleep(o.InterCallDelay)
		}
	}

	return &BatchResult{
		Chunks:   out,
		Failed:   failed,
		Coverage: glossary.Coverage(g, matched),
	}, nil
}

// translateChunk runs the retry state machine for one chunk: rotate on rate
// limits while the pool has untried keys this cycle, back off once the pool
// is exhausted, fail terminally past the retry ceiling. Any non-rate-limit
// error fails the chunk immediately.
func (o *Orchestrator) translateChunk(ctx context.Context, chunk segmenter.Chunk, terms []glossary.Match) (Result, error) {
	ctrl := newRetryController(o.Pool.Len(), o.BaseDelay, o.MaxRetries)

	for {
		callCtx := ctx
		var cancel context.CancelFunc
		if o.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, o.CallTimeout)
		}
		res, err := o.Engine.Translate(callCtx, o.Pool.Current(), chunk.Text, terms)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return res, nil
		}
		if !isRateLimit(err) {
			return Result{}, fmt.Errorf("remote translation: %w", err)
		}

		action, delay := ctrl.onRateLimit()
		switch action {
		case actionRotate:
			o.Pool.Rotate()
			o.emitStatus(StatusEvent{Kind: "rotate", Position: chunk.Position, KeyIndex: o.Pool.Index(), Retry: ctrl.retries()})
		case actionBackoff:
			o.emitStatus(StatusEvent{Kind: "backoff", Position: chunk.Position, KeyIndex: o.Pool.Index(), Retry: ctrl.retries(), Delay: delay})
			o.sleep(delay)
		case actionFail:
			return Result{}, fmt.Errorf("rate limited after %d backoff cycles: %w", o.MaxRetries, err)
		}
	}
}

func (o *Orchestrator) emitStatus(ev StatusEvent) {
	if o.Status != nil {
		o.Status(ev)
	}
}

// isRateLimit recognizes the retryable rate-limit signal among remote
// errors. Everything else fails the chunk immediately.
func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota")
}
