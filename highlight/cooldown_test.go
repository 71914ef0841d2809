package highlight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownWindow(t *testing.T) {
	tracker := NewCooldownTracker(30 * time.Second)
	key := CooldownKey{UserID: 10, GuildID: 1, Phrase: "cat"}
	base := time.Now()

	assert.True(t, tracker.Allow(key, base))
	assert.False(t, tracker.Allow(key, base.Add(10*time.Second)))
	assert.False(t, tracker.Allow(key, base.Add(29*time.Second)))
	assert.True(t, tracker.Allow(key, base.Add(30*time.Second)))

	// the suppressed attempts did not extend the window
	assert.False(t, tracker.Allow(key, base.Add(31*time.Second)))
}

func TestCooldownKeysIndependent(t *testing.T) {
	tracker := NewCooldownTracker(30 * time.Second)
	base := time.Now()

	assert.True(t, tracker.Allow(CooldownKey{UserID: 10, GuildID: 1, Phrase: "cat"}, base))
	assert.True(t, tracker.Allow(CooldownKey{UserID: 10, GuildID: 1, Phrase: "dog"}, base))
	assert.True(t, tracker.Allow(CooldownKey{UserID: 11, GuildID: 1, Phrase: "cat"}, base))
	assert.True(t, tracker.Allow(CooldownKey{UserID: 10, GuildID: 2, Phrase: "cat"}, base))

	assert.False(t, tracker.Allow(CooldownKey{UserID: 10, GuildID: 1, Phrase: "cat"}, base.Add(time.Second)))
}

func TestCooldownOutOfOrderEvents(t *testing.T) {
	tracker := NewCooldownTracker(30 * time.Second)
	key := CooldownKey{UserID: 10, GuildID: 1, Phrase: "cat"}
	base := time.Now()

	assert.True(t, tracker.Allow(key, base))
	// an event with an older timestamp arriving late is inside the window
	assert.False(t, tracker.Allow(key, base.Add(-5*time.Second)))
}

func TestCooldownSweep(t *testing.T) {
	tracker := NewCooldownTracker(30 * time.Second)
	base := time.Now()

	tracker.Allow(CooldownKey{UserID: 10, GuildID: 1, Phrase: "cat"}, base)
	tracker.Allow(CooldownKey{UserID: 11, GuildID: 1, Phrase: "dog"}, base.Add(20*time.Second))

	// only the first entry has aged out
	assert.Equal(t, 1, tracker.Sweep(base.Add(35*time.Second)))

	// eviction resets the stream, the next event notifies again
	assert.True(t, tracker.Allow(CooldownKey{UserID: 10, GuildID: 1, Phrase: "cat"}, base.Add(36*time.Second)))

	assert.Equal(t, 2, tracker.Sweep(base.Add(10*time.Minute)))
	assert.Equal(t, 0, tracker.Sweep(base.Add(10*time.Minute)))
}

func BenchmarkCooldownAllow(b *testing.B) {
	tracker := NewCooldownTracker(30 * time.Second)
	key := CooldownKey{UserID: 10, GuildID: 1, Phrase: "cat"}
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.Allow(key, now)
	}
}
