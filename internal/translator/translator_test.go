package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"doctrans/internal/glossary"
	"doctrans/internal/segmenter"

	"github.com/sashabaranov/go-openai"
)

// fakeEngine replays a scripted sequence of errors before succeeding.
type fakeEngine struct {
	script   []error // error per attempt; nil means success
	attempts int
	keysSeen []string
}

func (f *fakeEngine) Translate(_ context.Context, apiKey, text string, _ []glossary.Match) (Result, error) {
	f.keysSeen = append(f.keysSeen, apiKey)
	var err error
	if f.attempts < len(f.script) {
		err = f.script[f.attempts]
	}
	f.attempts++
	if err != nil {
		return Result{}, err
	}
	return Result{Translation: "译文:" + text}, nil
}

func rateLimitErr() error {
	return &openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached"}
}

func newTestOrchestrator(t *testing.T, engine Engine, keys []string) *Orchestrator {
	t.Helper()
	pool, err := NewKeyPool(keys)
	if err != nil {
		t.Fatalf("NewKeyPool: %v", err)
	}
	o := New(engine, pool)
	o.InterCallDelay = 0
	o.sleep = func(time.Duration) {}
	return o
}

func testGlossary() *glossary.Glossary {
	return glossary.New([]glossary.Entry{
		{English: "equipment", Chinese: "设备"},
		{English: "turbine", Chinese: "汽轮机"},
	})
}

func testChunks(n int) []segmenter.Chunk {
	var chunks []segmenter.Chunk
	for i := 0; i < n; i++ {
		chunks = append(chunks, segmenter.Chunk{
			ID:       fmt.Sprintf("chunk-%d", i),
			Position: i,
			Text:     fmt.Sprintf("The equipment in paragraph %d.", i),
			Type:     segmenter.TypeParagraph,
		})
	}
	return chunks
}

// ========== KeyPool ==========

func TestKeyPool_RotateWraps(t *testing.T) {
	pool, err := NewKeyPool([]string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if pool.Current() != "a" {
		t.Errorf("initial key = %q", pool.Current())
	}
	got := []string{pool.Rotate(), pool.Rotate(), pool.Rotate(), pool.Rotate()}
	want := []string{"b", "c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rotation %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeyPool_EmptyIsError(t *testing.T) {
	if _, err := NewKeyPool(nil); !errors.Is(err, ErrNoKeys) {
		t.Errorf("expected ErrNoKeys, got %v", err)
	}
	if _, err := NewKeyPool([]string{"", ""}); !errors.Is(err, ErrNoKeys) {
		t.Errorf("blank keys should not count, got %v", err)
	}
}

// ========== policies in isolation ==========

func TestRotationPolicy_BoundedByPoolSize(t *testing.T) {
	p := rotationPolicy{poolSize: 3}
	if !p.next() || !p.next() {
		t.Fatal("first two signals should allow rotation")
	}
	if p.next() {
		t.Error("third signal exhausts a 3-key pool; no further rotation")
	}
	p.resetCycle()
	if !p.next() {
		t.Error("after cycle reset, rotation is allowed again")
	}
}

func TestBackoffPolicy_LinearMultipleThenExhausted(t *testing.T) {
	p := backoffPolicy{base: 3 * time.Second, maxRetries: 5}
	var delays []time.Duration
	for {
		d, ok := p.next()
		if !ok {
			break
		}
		delays = append(delays, d)
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second, 12 * time.Second, 15 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("got %d backoffs, want %d", len(delays), len(want))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("backoff %d = %v, want %v", i, delays[i], want[i])
		}
	}
}

// ========== rotation + backoff through the orchestrator ==========

func TestRun_RotationBeforeBackoff(t *testing.T) {
	// 3 keys, 3 consecutive rate limits, then success. Expect exactly 2
	// rotations, then one backoff, never an extra rotation.
	engine := &fakeEngine{script: []error{rateLimitErr(), rateLimitErr(), rateLimitErr(), nil}}
	o := newTestOrchestrator(t, engine, []string{"k1", "k2", "k3"})

	var events []string
	var slept []time.Duration
	o.Status = func(ev StatusEvent) { events = append(events, ev.Kind) }
	o.sleep = func(d time.Duration) { slept = append(slept, d) }

	res, err := o.Run(context.Background(), testChunks(1), testGlossary())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Chunks[0].Failed {
		t.Fatal("chunk should eventually succeed")
	}

	want := []string{"rotate", "rotate", "backoff"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Errorf("backoff delays = %v, want [3s]", slept)
	}
	if got := engine.keysSeen; got[0] != "k1" || got[1] != "k2" || got[2] != "k3" {
		t.Errorf("keys tried in cycle = %v", got[:3])
	}
	// After backoff the cycle restarts on the current (wrapped) key.
	if engine.keysSeen[3] != "k3" {
		t.Errorf("post-backoff attempt used %q, want current key k3", engine.keysSeen[3])
	}
}

func TestRun_TerminalFailureKeepsSequence(t *testing.T) {
	// Chunk 0 rate-limits forever; chunks 1 and 2 succeed. One key so every
	// cycle is a backoff; after 5 backoffs the chunk fails terminally.
	var script []error
	for i := 0; i < 50; i++ {
		script = append(script, rateLimitErr())
	}
	engine := &scriptPerChunk{failFirst: script}
	o := newTestOrchestrator(t, engine, []string{"only"})

	res, err := o.Run(context.Background(), testChunks(3), testGlossary())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("output length %d, want 3 (failures are never dropped)", len(res.Chunks))
	}
	if !res.Chunks[0].Failed || res.Chunks[0].Translation != FailedMarker {
		t.Errorf("chunk 0 should carry the failed marker: %+v", res.Chunks[0])
	}
	for i := 1; i < 3; i++ {
		if res.Chunks[i].Failed {
			t.Errorf("chunk %d should have succeeded", i)
		}
		if res.Chunks[i].Position != i {
			t.Errorf("chunk %d position = %d", i, res.Chunks[i].Position)
		}
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	// 1-key pool: the failing chunk gets exactly MaxRetries backoff cycles,
	// so MaxRetries+1 attempts.
	if engine.firstChunkAttempts != 6 {
		t.Errorf("attempts on failing chunk = %d, want 6", engine.firstChunkAttempts)
	}
}

// scriptPerChunk fails the first chunk with the scripted errors and
// succeeds on every other chunk.
type scriptPerChunk struct {
	failFirst          []error
	firstChunkAttempts int
}

func (s *scriptPerChunk) Translate(_ context.Context, _, text string, _ []glossary.Match) (Result, error) {
	if strings.Contains(text, "paragraph 0.") {
		s.firstChunkAttempts++
		if s.firstChunkAttempts <= len(s.failFirst) {
			if err := s.failFirst[s.firstChunkAttempts-1]; err != nil {
				return Result{}, err
			}
		}
	}
	return Result{Translation: "ok"}, nil
}

func TestRun_NonRateLimitFailsImmediately(t *testing.T) {
	engine := &fakeEngine{script: []error{errors.New("model overloaded upstream"), nil}}
	o := newTestOrchestrator(t, engine, []string{"k1", "k2"})

	res, err := o.Run(context.Background(), testChunks(2), testGlossary())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Chunks[0].Failed {
		t.Error("non-rate-limit error must fail the chunk")
	}
	if engine.attempts < 2 {
		t.Fatalf("second chunk was not processed")
	}
	// No retry on the failed chunk: attempt 2 was already chunk 1.
	if engine.keysSeen[1] != "k1" {
		t.Errorf("no rotation should have happened, second attempt key = %q", engine.keysSeen[1])
	}
}

func TestRun_EmptyGlossaryBlocksRun(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEngine{}, []string{"k"})
	if _, err := o.Run(context.Background(), testChunks(1), glossary.New(nil)); !errors.Is(err, glossary.ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestRun_ProgressAndCoverage(t *testing.T) {
	engine := &fakeEngine{}
	o := newTestOrchestrator(t, engine, []string{"k"})

	var progress [][2]int
	o.Progress = func(done, total int) { progress = append(progress, [2]int{done, total}) }

	res, err := o.Run(context.Background(), testChunks(3), testGlossary())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(progress) != 3 {
		t.Fatalf("progress fired %d times, want 3", len(progress))
	}
	for i, p := range progress {
		if p[0] != i+1 || p[1] != 3 {
			t.Errorf("progress %d = %v", i, p)
		}
	}

	// "equipment" occurs in every chunk, "turbine" nowhere: coverage 1/2.
	if res.Coverage != 0.5 {
		t.Errorf("coverage = %v, want 0.5", res.Coverage)
	}
	if len(res.Chunks[0].MatchedTerms) != 1 || res.Chunks[0].MatchedTerms[0].English != "equipment" {
		t.Errorf("matched terms = %+v", res.Chunks[0].MatchedTerms)
	}
}

// ========== isRateLimit ==========

func TestIsRateLimit(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&openai.APIError{HTTPStatusCode: 429}, true},
		{fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: 429}), true},
		{errors.New("Rate limit reached for requests"), true},
		{errors.New("You exceeded your current quota"), true},
		{&openai.APIError{HTTPStatusCode: 500, Message: "server error"}, false},
		{errors.New("connection refused"), false},
	}
	for _, c := range cases {
		if got := isRateLimit(c.err); got != c.want {
			t.Errorf("isRateLimit(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

// ========== parseResult ==========

func TestParseResult(t *testing.T) {
	res, err := parseResult("```json\n{\"translation\": \"设备必须合规。\", \"new_terms\": [\"servo drive\"]}\n```")
	if err != nil {
		t.Fatal(err)
	}
	if res.Translation != "设备必须合规。" {
		t.Errorf("translation = %q", res.Translation)
	}
	if len(res.NewTerms) != 1 || res.NewTerms[0] != "servo drive" {
		t.Errorf("new terms = %v", res.NewTerms)
	}

	// Malformed JSON falls back to raw text rather than failing the chunk.
	res, err = parseResult("就是译文本身")
	if err != nil || res.Translation != "就是译文本身" {
		t.Errorf("raw fallback = %+v, err %v", res, err)
	}
}
