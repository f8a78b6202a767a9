package llm

import (
	"context"
	"strings"
	"sync"
)

// StubRule maps a substring match against the lowercased input text to the
// vector StubClient.Embed should return for it.
type StubRule struct {
	Contains string
	Vector   []float32
}

// StubClient is a deterministic, in-process Client used by tests that need
// reproducible embeddings and generations without a live LLM server. It
// never performs network I/O.
type StubClient struct {
	mu sync.Mutex

	embedRules      []StubRule
	defaultVec      []float32
	generateFunc    func(prompt, system string) string
	errorOnCall     map[int]error // 1-indexed Embed call number -> error to simulate
	generateErrorOn map[int]error // 1-indexed Complete/Generate call number -> error to simulate
	embedCalls      int
	generateCalls   int
}

var _ Client = (*StubClient)(nil)

// NewStubClient returns a StubClient whose Embed matches text against rules
// in order, falling back to defaultVec when none match.
func NewStubClient(rules []StubRule, defaultVec []float32) *StubClient {
	return &StubClient{
		embedRules:      rules,
		defaultVec:      defaultVec,
		errorOnCall:     map[int]error{},
		generateErrorOn: map[int]error{},
	}
}

// SetGenerateFunc installs a deterministic responder for Generate/GenerateStream.
func (s *StubClient) SetGenerateFunc(fn func(prompt, system string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateFunc = fn
}

// FailEmbedOnCall marks the n-th (1-indexed) call to Embed as a simulated
// failure: Embed returns nil for that call, as if the transport had failed,
// without affecting any other call. Used to exercise embedding-failure
// handling deterministically; LLM exceptions seen by Complete (the chunk
// selector's fail-open path) are simulated with FailGenerateOnCall instead.
func (s *StubClient) FailEmbedOnCall(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorOnCall[n] = errStubFailure
}

// FailGenerateOnCall marks the n-th (1-indexed) call to Complete/Generate as
// a simulated LLM exception: Complete returns an error for that call and
// Generate returns "" for it, without affecting any other call.
func (s *StubClient) FailGenerateOnCall(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateErrorOn[n] = errStubFailure
}

var errStubFailure = &stubError{"stub: simulated embed failure"}
var errStubGenerateFailure = &stubError{"stub: simulated generate failure"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }

func (s *StubClient) EmbedCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embedCalls
}

func (s *StubClient) GenerateCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateCalls
}

func (s *StubClient) Embed(_ context.Context, text string) []float32 {
	s.mu.Lock()
	s.embedCalls++
	n := s.embedCalls
	s.mu.Unlock()

	if _, fail := s.errorOnCall[n]; fail {
		return nil
	}

	lower := strings.ToLower(text)
	for _, rule := range s.embedRules {
		if strings.Contains(lower, rule.Contains) {
			return rule.Vector
		}
	}
	return s.defaultVec
}

func (s *StubClient) Generate(ctx context.Context, prompt, system string) string {
	text, err := s.Complete(ctx, prompt, system)
	if err != nil {
		return ""
	}
	return text
}

func (s *StubClient) Complete(_ context.Context, prompt, system string) (string, error) {
	s.mu.Lock()
	s.generateCalls++
	n := s.generateCalls
	fn := s.generateFunc
	s.mu.Unlock()

	if _, fail := s.generateErrorOn[n]; fail {
		return "", errStubGenerateFailure
	}

	if fn == nil {
		return "", nil
	}
	return fn(prompt, system), nil
}

func (s *StubClient) GenerateStream(ctx context.Context, prompt, system string) (<-chan Delta, error) {
	text, err := s.Complete(ctx, prompt, system)
	if err != nil {
		return nil, err
	}
	ch := make(chan Delta, 2)
	if text != "" {
		ch <- Delta{Text: text}
	}
	ch <- Delta{Done: true}
	close(ch)
	return ch, nil
}

func (s *StubClient) CheckConnection(_ context.Context) (bool, string) {
	return true, "stub client always reachable"
}
