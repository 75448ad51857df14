package isotp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_StoppedNeverTimesOut(t *testing.T) {
	tm := NewTimer(10 * time.Millisecond)
	assert.False(t, tm.Running())
	assert.False(t, tm.IsTimedOut())
	assert.Equal(t, time.Duration(0), tm.Elapsed())
}

func TestTimer_ZeroTimeoutAlwaysFiresOnceStarted(t *testing.T) {
	tm := NewTimer(0)
	tm.Start()
	require.True(t, tm.Running())
	assert.True(t, tm.IsTimedOut())
}

func TestTimer_FiresAfterTimeout(t *testing.T) {
	tm := NewTimer(5 * time.Millisecond)
	tm.Start()
	assert.False(t, tm.IsTimedOut())
	time.Sleep(10 * time.Millisecond)
	assert.True(t, tm.IsTimedOut())
}

func TestTimer_StopResetsTimedOutState(t *testing.T) {
	tm := NewTimer(0)
	tm.Start()
	require.True(t, tm.IsTimedOut())
	tm.Stop()
	assert.False(t, tm.IsTimedOut())
	assert.False(t, tm.Running())
}

func TestTimer_StartWithTimeoutOverridesDefault(t *testing.T) {
	tm := NewTimer(time.Hour)
	tm.StartWithTimeout(0)
	assert.True(t, tm.IsTimedOut())
	tm.StartWithTimeout(time.Hour)
	assert.False(t, tm.IsTimedOut())
}
