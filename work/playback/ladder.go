package playback

import (
	"time"
)

// LadderState is the recovery state machine's position. Decode faults walk
// the machine from Idle through Recovering and CodecSwapped to Failed;
// successful playback outside the cool-down window walks it back implicitly
// because the timestamps age out.
type LadderState int

const (
	LadderIdle LadderState = iota
	LadderRecovering
	LadderCodecSwapped
	LadderFailed
)

func (s LadderState) String() string {
	switch s {
	case LadderRecovering:
		return "recovering"
	case LadderCodecSwapped:
		return "codec-swapped"
	case LadderFailed:
		return "failed"
	default:
		return "idle"
	}
}

// RecoveryAction is what the controller must do in response to a fault.
type RecoveryAction int

const (
	ActionNone RecoveryAction = iota
	ActionRestartLoad
	ActionRecoverMedia
	ActionSwapCodecAndRecover
	ActionTeardown
)

func (a RecoveryAction) String() string {
	switch a {
	case ActionRestartLoad:
		return "restart-load"
	case ActionRecoverMedia:
		return "media-recover"
	case ActionSwapCodecAndRecover:
		return "codec-swap"
	case ActionTeardown:
		return "teardown"
	default:
		return "none"
	}
}

// recoveryCooldown separates a new fault occurrence from an immediate
// repeat. A decode fault is often a single bad fragment; retrying the same
// fix inside the window would spin, so the second rung escalates instead.
const recoveryCooldown = 3 * time.Second

// RecoveryLadder decides the escalation path for fatal playback faults.
// Transitions key on (current state, fault type) with cool-down guards on
// the media rungs. State is scoped to one controller session and never
// shared: a fresh session starts with both timestamps unset. The ladder
// carries no lock of its own; the owning controller serializes Next and
// State under its session mutex.
type RecoveryLadder struct {
	now      func() time.Time
	cooldown time.Duration

	state               LadderState
	lastMediaRecoveryAt time.Time // zero = never attempted
	lastCodecSwapAt     time.Time // zero = never attempted
}

// NewRecoveryLadder returns a ladder in Idle with unset recovery timestamps.
func NewRecoveryLadder(now func() time.Time) *RecoveryLadder {
	if now == nil {
		now = time.Now
	}
	return &RecoveryLadder{
		now:      now,
		cooldown: recoveryCooldown,
		state:    LadderIdle,
	}
}

// State returns the ladder's current position.
func (l *RecoveryLadder) State() LadderState {
	return l.state
}

// Next consumes one fatal fault and returns the action to take.
//
//   - network: restart the load, always. Live streams stay up at all costs;
//     restart is cheap and idempotent, so there is no bound.
//   - media: first occurrence in the window gets in-place recovery; an
//     immediate repeat gets a codec swap plus recovery; a third within the
//     window exhausts the ladder and tears the session down. Once the
//     cool-down elapses the fault counts as a new occurrence and the ladder
//     starts over at the first rung.
//   - anything else: teardown.
func (l *RecoveryLadder) Next(fault FaultType) RecoveryAction {
	if l.state == LadderFailed {
		return ActionTeardown
	}

	switch fault {
	case FaultNetwork:
		return ActionRestartLoad

	case FaultMedia:
		now := l.now()
		if l.lastMediaRecoveryAt.IsZero() || now.Sub(l.lastMediaRecoveryAt) > l.cooldown {
			l.lastMediaRecoveryAt = now
			l.state = LadderRecovering
			return ActionRecoverMedia
		}
		if l.lastCodecSwapAt.IsZero() || now.Sub(l.lastCodecSwapAt) > l.cooldown {
			l.lastCodecSwapAt = now
			l.state = LadderCodecSwapped
			return ActionSwapCodecAndRecover
		}
		l.state = LadderFailed
		return ActionTeardown

	default:
		l.state = LadderFailed
		return ActionTeardown
	}
}
