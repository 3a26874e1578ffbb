package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSteppedClock(t *testing.T) {
	c := NewSteppedClock(Epoch, time.Millisecond)

	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Millisecond), c.Now())
	assert.Equal(t, Epoch.Add(2*time.Millisecond), c.Now())

	// Two fresh clocks observe identical instants.
	other := NewSteppedClock(Epoch, time.Millisecond)
	c.Reset(Epoch)
	for i := 0; i < 5; i++ {
		assert.Equal(t, other.Now(), c.Now())
	}
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("att")
	assert.Equal(t, "att-000001", g.Next())
	assert.Equal(t, "att-000002", g.Next())

	assert.Equal(t, "test-id-000001", NewSequentialIDs("").Next())
}
