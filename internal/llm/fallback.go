package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackProvider asks each provider in turn. A provider error or an empty
// completion moves on to the next one; a canceled context ends the chain.
type FallbackProvider struct {
	chain  []Provider
	logger *slog.Logger
}

// NewFallbackProvider chains providers in priority order. It panics on an
// empty chain.
func NewFallbackProvider(chain []Provider, logger *slog.Logger) *FallbackProvider {
	if len(chain) == 0 {
		panic("llm: empty fallback chain")
	}
	return &FallbackProvider{chain: chain, logger: logger}
}

// Complete returns the first non-empty completion. When every provider
// fails the error joins each provider's failure.
func (f *FallbackProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	var errs []error
	for i, p := range f.chain {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			_, err = resp.Text()
		}
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "codegen served by fallback provider",
					slog.String("provider", p.Name()),
					slog.Int("position", i),
				)
			}
			return resp, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			return nil, errors.Join(errs...)
		}
		if i < len(f.chain)-1 {
			f.logger.WarnContext(ctx, "provider failed, falling back",
				slog.String("provider", p.Name()),
				slog.String("next", f.chain[i+1].Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil, fmt.Errorf("all %d providers failed: %w", len(f.chain), errors.Join(errs...))
}

// Name reports the primary provider with a "+fallback" suffix.
func (f *FallbackProvider) Name() string {
	return f.chain[0].Name() + "+fallback"
}
