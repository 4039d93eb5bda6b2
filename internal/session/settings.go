package session

import (
	"context"

	"github.com/plextuner/m3u-curator/internal/normalize"
)

// Settings supplies the user's prefix and suffix configuration.
type Settings interface {
	Affixes(ctx context.Context) (normalize.Affixes, error)
}

// Static is a fixed in-memory Settings.
type Static normalize.Affixes

func (s Static) Affixes(context.Context) (normalize.Affixes, error) {
	return normalize.Affixes(s), nil
}
