package biz

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/kart-io/bookrag/pkg/llm"
)

// fakeEmbedder 确定性的测试用嵌入供应商。
// 相同文本总是产生相同向量，可通过 vectors 预置指定文本的向量。
type fakeEmbedder struct {
	dim     int
	vectors map[string][]float32
	err     error

	mu    sync.Mutex
	calls int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.embed(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

func (f *fakeEmbedder) Name() string { return "fake-embed" }

func (f *fakeEmbedder) embed(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	// 基于文本哈希生成确定性向量
	vec := make([]float32, f.dim)
	for i := range vec {
		h := fnv.New32a()
		_, _ = fmt.Fprintf(h, "%s:%d", text, i)
		vec[i] = float32(h.Sum32()%1000)/1000.0 + 0.001
	}
	return vec
}

// fakeChat 测试用 Chat 供应商，按顺序返回预置响应，耗尽后重复最后一条。
type fakeChat struct {
	responses []string
	errs      []error
	usage     *llm.TokenUsage

	mu            sync.Mutex
	generateCalls int
	prompts       []string
}

func (f *fakeChat) Chat(_ context.Context, _ []llm.Message) (string, error) {
	return "", nil
}

func (f *fakeChat) Generate(_ context.Context, prompt, _ string) (*llm.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.generateCalls
	f.generateCalls++
	f.prompts = append(f.prompts, prompt)

	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("no response configured")
	}
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return &llm.GenerateResponse{Content: f.responses[idx], TokenUsage: f.usage}, nil
}

func (f *fakeChat) Name() string { return "fake-chat" }

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}
