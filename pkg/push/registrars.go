package push

import (
	"context"
	"errors"
)

// Registrars fans a token out to every registrar in order. All registrars
// are called even when one fails; the failures are joined.
type Registrars []TokenRegistrar

func (rs Registrars) Register(ctx context.Context, token string) error {
	var errs []error
	for _, r := range rs {
		if err := r.Register(ctx, token); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
