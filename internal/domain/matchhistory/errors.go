package matchhistory

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the coordination layer. Callers classify with errors.Is;
// anything not matched here is treated as transient and retried within the
// step's own budget.
var (
	// ErrPlayerNotFound means the riot id does not resolve in the requested
	// region. Terminal: surfaced to the caller, never retried, and no
	// cooldown is set so the caller can correct the request and retry sooner.
	ErrPlayerNotFound = errors.New("player not found")

	// ErrLeaseLost means a lease renewal found the lock key gone. Fatal for
	// the current run: continuing would risk two concurrent workers writing
	// for the same player.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrAdmissionTimeout means the shared rate-limit gate refused admission
	// for longer than the configured ceiling.
	ErrAdmissionTimeout = errors.New("rate limit admission timed out")

	// ErrJobInProgress means a live lease already exists for the player. Not
	// a failure: callers attach to the running job.
	ErrJobInProgress = errors.New("update already in progress")

	// ErrNoHistory means the cache holds nothing for the player.
	ErrNoHistory = errors.New("no match history cached")
)

// CooldownError reports a refused job start while the post-completion
// cooldown is live. Remaining communicates how long the caller must wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("player is on cooldown for another %ds", int(e.Remaining.Seconds()))
}

// IsTerminal reports whether err must not be retried at any level.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrLeaseLost)
}
