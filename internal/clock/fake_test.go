package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	f := NewFake(start)

	early := f.NewTimer(time.Minute)
	late := f.NewTimer(time.Hour)

	f.Advance(time.Minute)
	select {
	case now := <-early.C():
		assert.True(t, now.Equal(start.Add(time.Minute)))
	default:
		t.Fatal("due timer did not fire")
	}
	select {
	case <-late.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	f.Advance(time.Hour)
	select {
	case <-late.C():
	default:
		t.Fatal("second timer did not fire after advance")
	}
	assert.True(t, f.Now().Equal(start.Add(time.Hour+time.Minute)))
}

func TestFakeTimerInPastFiresImmediately(t *testing.T) {
	f := NewFake(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	tm := f.NewTimer(-time.Second)
	select {
	case <-tm.C():
	default:
		t.Fatal("past deadline timer should fire at creation")
	}
}

func TestFakeStoppedTimerNeverFires(t *testing.T) {
	f := NewFake(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	tm := f.NewTimer(time.Minute)
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())

	f.Advance(time.Hour)
	select {
	case <-tm.C():
		t.Fatal("stopped timer fired")
	default:
	}
}
