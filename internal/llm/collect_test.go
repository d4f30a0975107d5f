package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	chunks []*CompletionChunk
	name   string
}

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	ch := make(chan *CompletionChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}
func (f *fakeProvider) Name() string          { return f.name }
func (f *fakeProvider) Models() []Model       { return nil }
func (f *fakeProvider) SupportsTools() bool   { return true }

func TestCollect_ConcatenatesTextAndCollectsToolCalls(t *testing.T) {
	p := &fakeProvider{chunks: []*CompletionChunk{
		{Text: "hello ", InputTokens: 10},
		{Text: "world", OutputTokens: 5},
		{ToolCall: &ToolCall{Name: "search"}},
		{Done: true},
	}}

	text, calls, in, out, err := Collect(context.Background(), p, &CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("expected concatenated text, got %q", text)
	}
	if len(calls) != 1 || calls[0].Name != "search" {
		t.Errorf("expected one collected tool call, got %v", calls)
	}
	if in != 10 || out != 5 {
		t.Errorf("expected token totals 10/5, got %d/%d", in, out)
	}
}

func TestCollect_PropagatesChunkError(t *testing.T) {
	boom := errors.New("stream failed")
	p := &fakeProvider{chunks: []*CompletionChunk{
		{Text: "partial"},
		{Error: boom},
	}}

	_, _, _, _, err := Collect(context.Background(), p, &CompletionRequest{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}
}
