// Package backend provides NativeBackend implementations. MockBackend
// stands in for the native GGUF/llama.cpp FFI layer so the generation loop
// is fully testable without CGO — grounded on the retrieval pack's
// channel-based MockBackend/MockModelHandle (internal/infra/engine/mock.go),
// adapted from its token-channel shape to this spec's batch/logits
// NativeBackend contract (§6).
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/infercore/infercore/internal/domain"
)

const (
	bosTokenID int32 = -1
	eosTokenID int32 = 0 // in-vocabulary, so Logits can spike on it
)

// MockBackend implements domain.NativeBackend for testing.
type MockBackend struct {
	// Response, when set, is the exact canned text the handle will
	// "generate" regardless of prompt. Empty means echo the prompt back.
	Response string
}

// NewMockBackend creates a mock backend with the default echo behavior.
func NewMockBackend() *MockBackend { return &MockBackend{} }

// LoadModel ignores the artifact and options, returning a mock handle whose
// vocabulary is built lazily from whatever text it is asked to tokenize.
func (m *MockBackend) LoadModel(_ context.Context, artifact domain.Artifact, _ domain.LoadOptions) (domain.ModelHandle, error) {
	if artifact.URI == "" {
		return nil, fmt.Errorf("mock backend: empty artifact uri")
	}
	return &mockHandle{
		response: m.Response,
		wordToID: make(map[string]int32),
		idToWord: make(map[int32]string),
		nextID:   eosTokenID + 1,
		memBytes: 100 * 1024 * 1024,
	}, nil
}

// mockHandle implements domain.ModelHandle with a tiny deterministic
// word-level vocabulary, sized only to the text it actually sees.
type mockHandle struct {
	mu       sync.Mutex
	response string
	wordToID map[string]int32
	idToWord map[int32]string
	nextID   int32
	memBytes uint64
	closed   bool

	// pendingTokens is computed on the first Tokenize call of a request
	// and consumed token-by-token as Decode/Logits drive generation.
	pendingTokens []int32
	cursor        int
}

func (h *mockHandle) idFor(word string) int32 {
	if id, ok := h.wordToID[word]; ok {
		return id
	}
	id := h.nextID
	h.nextID++
	h.wordToID[word] = id
	h.idToWord[id] = word
	return id
}

// Tokenize splits on whitespace into word-level tokens, registering any new
// words into the handle's vocabulary. addBOS prepends a synthetic BOS id.
func (h *mockHandle) Tokenize(text string, addBOS, _ bool) ([]int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("mock backend: handle closed")
	}

	var ids []int32
	if addBOS {
		ids = append(ids, bosTokenID)
	}
	if strings.TrimSpace(text) == "" {
		return ids, nil
	}
	for _, w := range strings.Fields(text) {
		ids = append(ids, h.idFor(w))
	}

	// Precompute the canned response's token sequence so Logits can emit a
	// one-hot spike on the "correct" next token, independent of the sampler
	// under test — determinism is the point of this backend.
	response := h.response
	if response == "" {
		response = "the answer is " + strings.Join(strings.Fields(text), " ")
	}
	h.pendingTokens = nil
	for _, w := range strings.Fields(response) {
		h.pendingTokens = append(h.pendingTokens, h.idFor(w))
	}
	h.pendingTokens = append(h.pendingTokens, eosTokenID)
	h.cursor = 0

	return ids, nil
}

// TokenToPiece detokenizes a single token id back to its word (plus a
// leading space, matching llama.cpp-style piece conventions, unless lstrip).
func (h *mockHandle) TokenToPiece(token int32, lstrip bool, _ bool) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch token {
	case bosTokenID:
		return "", nil
	case eosTokenID:
		return "", nil
	}
	word, ok := h.idToWord[token]
	if !ok {
		return "", fmt.Errorf("mock backend: unknown token id %d", token)
	}
	if lstrip {
		return word, nil
	}
	return " " + word, nil
}

func (h *mockHandle) IsEndOfGeneration(token int32) bool { return token == eosTokenID }

// Decode advances the handle's cursor into the precomputed response; the
// batch contents are otherwise ignored since this backend doesn't run a
// real model.
func (h *mockHandle) Decode(_ context.Context, _ domain.Batch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("mock backend: handle closed")
	}
	return nil
}

// Logits returns a one-hot vector spiking on the next token of the canned
// response, so that greedy (argmax) sampling reproduces it deterministically.
func (h *mockHandle) Logits(_ int) ([]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	vocabSize := int(h.nextID)
	if vocabSize == 0 {
		vocabSize = 1
	}
	logits := make([]float32, vocabSize)
	if h.cursor < len(h.pendingTokens) {
		next := h.pendingTokens[h.cursor]
		h.cursor++
		if int(next) >= 0 && int(next) < vocabSize {
			logits[next] = 10.0
		}
	}
	return logits, nil
}

func (h *mockHandle) KVCacheClear() {
	h.mu.Lock()
	h.cursor = 0
	h.mu.Unlock()
}

func (h *mockHandle) MemoryBytes() uint64 { return h.memBytes }

func (h *mockHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}
