package verify

import (
	"errors"
	"fmt"
)

// Mode selects how much a verification run may cost.
type Mode string

const (
	// ModeSimple is a liveness-only check with no item cap.
	ModeSimple Mode = "simple"
	// ModeQuality analyses each stream and is capped at a fixed maximum.
	ModeQuality Mode = "quality"
)

// DefaultQualityMax is the item cap for ModeQuality runs.
const DefaultQualityMax = 20

var ErrTooManyForQuality = errors.New("verify: too many channels for a quality check")

// ParseMode accepts "simple" or "quality" (empty means simple).
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSimple:
		return ModeSimple, nil
	case ModeQuality:
		return ModeQuality, nil
	}
	return "", fmt.Errorf("verify: unknown mode %q", s)
}

// Plan applies the cost cap before a batch. In ModeQuality the work list is
// truncated to max (DefaultQualityMax when max <= 0) and the excess returned
// as dropped so the caller can deselect it. With strict set, exceeding the cap
// returns ErrTooManyForQuality and no work.
func Plan(mode Mode, items []Item, max int, strict bool) (kept, dropped []Item, err error) {
	if mode != ModeQuality {
		return items, nil, nil
	}
	if max <= 0 {
		max = DefaultQualityMax
	}
	if len(items) <= max {
		return items, nil, nil
	}
	if strict {
		return nil, nil, fmt.Errorf("%w: %d selected, max %d", ErrTooManyForQuality, len(items), max)
	}
	return items[:max:max], items[max:], nil
}
