package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Content: s.text}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackProvider(t *testing.T) {
	failing := &stubProvider{name: "a", err: errors.New("down")}
	working := &stubProvider{name: "b", text: "return 1;"}
	unused := &stubProvider{name: "c", text: "never"}

	f := NewFallbackProvider([]Provider{failing, working, unused}, discardLogger())
	resp, err := f.Complete(context.Background(), UserPrompt("", "hi", 0))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "return 1;" {
		t.Errorf("Content = %q, want %q", resp.Content, "return 1;")
	}
	if unused.calls != 0 {
		t.Errorf("third provider called %d times, want 0", unused.calls)
	}
	if got := f.Name(); got != "a+fallback" {
		t.Errorf("Name() = %q, want %q", got, "a+fallback")
	}
}

func TestFallbackProvider_AllFail(t *testing.T) {
	errLast := errors.New("last")
	f := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", err: errors.New("first")},
		&stubProvider{name: "b", err: errLast},
	}, discardLogger())
	if _, err := f.Complete(context.Background(), UserPrompt("", "hi", 0)); !errors.Is(err, errLast) {
		t.Errorf("Complete() error = %v, want wrapping %v", err, errLast)
	}
}

func TestFallbackProvider_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	second := &stubProvider{name: "b", text: "x"}
	f := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", err: context.Canceled},
		second,
	}, discardLogger())
	if _, err := f.Complete(ctx, UserPrompt("", "hi", 0)); !errors.Is(err, context.Canceled) {
		t.Errorf("Complete() error = %v, want context.Canceled", err)
	}
	if second.calls != 0 {
		t.Errorf("second provider called %d times, want 0", second.calls)
	}
}

func TestResponseText(t *testing.T) {
	if _, err := (&Response{Content: "  \n"}).Text(); !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("Text() error = %v, want ErrEmptyCompletion", err)
	}
	got, err := (&Response{Content: " return 1; \n"}).Text()
	if err != nil || got != "return 1;" {
		t.Errorf("Text() = %q, %v, want %q", got, err, "return 1;")
	}
}

func TestFallbackProvider_SkipsEmptyCompletion(t *testing.T) {
	empty := &stubProvider{name: "a", text: "   "}
	working := &stubProvider{name: "b", text: "return 2;"}
	f := NewFallbackProvider([]Provider{empty, working}, discardLogger())

	resp, err := f.Complete(context.Background(), UserPrompt("", "hi", 0))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "return 2;" {
		t.Errorf("Content = %q, want %q", resp.Content, "return 2;")
	}
	if empty.calls != 1 || working.calls != 1 {
		t.Errorf("calls = %d, %d, want 1, 1", empty.calls, working.calls)
	}
}

func TestFallbackProvider_JoinsErrors(t *testing.T) {
	errFirst := errors.New("first")
	f := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", err: errFirst},
		&stubProvider{name: "b", text: ""},
	}, discardLogger())

	_, err := f.Complete(context.Background(), UserPrompt("", "hi", 0))
	if !errors.Is(err, errFirst) || !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("Complete() error = %v, want both failures joined", err)
	}
}
