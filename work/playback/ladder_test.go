package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestLadderNetworkFaultAlwaysRestarts(t *testing.T) {
	clock := newFakeClock()
	ladder := NewRecoveryLadder(clock.Now)

	for i := 0; i < 10; i++ {
		assert.Equal(t, ActionRestartLoad, ladder.Next(FaultNetwork))
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, LadderIdle, ladder.State())
}

func TestLadderMediaFaultsEscalateWithinCooldown(t *testing.T) {
	clock := newFakeClock()
	ladder := NewRecoveryLadder(clock.Now)

	assert.Equal(t, ActionRecoverMedia, ladder.Next(FaultMedia))
	assert.Equal(t, LadderRecovering, ladder.State())

	clock.Advance(time.Second)
	assert.Equal(t, ActionSwapCodecAndRecover, ladder.Next(FaultMedia))
	assert.Equal(t, LadderCodecSwapped, ladder.State())

	clock.Advance(time.Second)
	assert.Equal(t, ActionTeardown, ladder.Next(FaultMedia))
	assert.Equal(t, LadderFailed, ladder.State())
}

func TestLadderMediaFaultAfterCooldownRestartsAtFirstRung(t *testing.T) {
	clock := newFakeClock()
	ladder := NewRecoveryLadder(clock.Now)

	assert.Equal(t, ActionRecoverMedia, ladder.Next(FaultMedia))

	clock.Advance(10 * time.Second)
	assert.Equal(t, ActionRecoverMedia, ladder.Next(FaultMedia))
	assert.Equal(t, LadderRecovering, ladder.State())
}

func TestLadderOtherFaultTearsDownImmediately(t *testing.T) {
	ladder := NewRecoveryLadder(newFakeClock().Now)

	assert.Equal(t, ActionTeardown, ladder.Next(FaultOther))
	assert.Equal(t, LadderFailed, ladder.State())
}

func TestLadderFailedIsTerminal(t *testing.T) {
	ladder := NewRecoveryLadder(newFakeClock().Now)

	ladder.Next(FaultOther)
	assert.Equal(t, ActionTeardown, ladder.Next(FaultMedia))
	assert.Equal(t, ActionTeardown, ladder.Next(FaultNetwork))
}
