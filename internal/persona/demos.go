package persona

import (
	"context"
	"errors"
	"log/slog"
)

var _ Store = (*demoStore)(nil)

// WithDemos wraps s so that the built-in [Demos] are served whenever s yields
// no personas or fails to list them. Failures are logged, not returned.
func WithDemos(s Store) Store {
	return &demoStore{next: s}
}

type demoStore struct {
	next Store
}

func (d *demoStore) List(ctx context.Context) ([]Persona, error) {
	if d.next != nil {
		list, err := d.next.List(ctx)
		if err == nil && len(list) > 0 {
			return list, nil
		}
		if err != nil {
			slog.Warn("persona: list failed, serving demo personas", "err", err)
		}
	}
	return Demos(), nil
}

func (d *demoStore) Get(ctx context.Context, id string) (Persona, error) {
	if d.next != nil {
		p, err := d.next.Get(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("persona: get failed, trying demo personas", "id", id, "err", err)
		} else if list, lerr := d.next.List(ctx); lerr == nil && len(list) > 0 {
			// A populated source is authoritative; demos only fill an empty one.
			return Persona{}, ErrNotFound
		}
	}
	for _, p := range Demos() {
		if p.ID == id {
			return p, nil
		}
	}
	return Persona{}, ErrNotFound
}
