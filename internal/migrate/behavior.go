package migrate

import (
	"errors"
	"fmt"
	"strings"
)

// Behavior selects which drifts a migration run may act on.
type Behavior string

const (
	// BehaviorStrict only checks for drift and logs it.
	BehaviorStrict Behavior = "strict"
	// BehaviorSafeUpgrades applies non-destructive drift and skips the rest.
	BehaviorSafeUpgrades Behavior = "safe-upgrades"
	// BehaviorFullDestructive applies every drift, rebuilding tables as needed.
	BehaviorFullDestructive Behavior = "full-destructive-updates"
	// BehaviorIgnore does nothing.
	BehaviorIgnore Behavior = "ignore"
)

var (
	// ErrUnknownBehavior indicates a behavior name that is not recognized.
	ErrUnknownBehavior = errors.New("migrate: unknown behavior")
)

// Behaviors lists every behavior.
var Behaviors = []Behavior{
	BehaviorStrict,
	BehaviorSafeUpgrades,
	BehaviorFullDestructive,
	BehaviorIgnore,
}

// ParseBehavior parses a behavior name, ignoring case and surrounding space.
func ParseBehavior(raw string) (Behavior, error) {
	name := Behavior(strings.ToLower(strings.TrimSpace(raw)))
	for _, b := range Behaviors {
		if b == name {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownBehavior, raw)
}

// Mutates reports whether the behavior may change the database.
func (b Behavior) Mutates() bool {
	return b == BehaviorSafeUpgrades || b == BehaviorFullDestructive
}

func (b Behavior) String() string {
	return string(b)
}
