package llm

import (
	"context"
	"fmt"
)

// Disabled is the provider used when no backend is configured.
type Disabled struct {
	Reason string
}

func (d Disabled) Complete(context.Context, Request) (Response, error) {
	if d.Reason == "" {
		return Response{}, ErrDisabled
	}
	return Response{}, fmt.Errorf("%w: %s", ErrDisabled, d.Reason)
}

func (Disabled) Name() string { return ProviderDisabled }
