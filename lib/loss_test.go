package lib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLossWindowStartsClean(t *testing.T) {
	w := newLossWindow(10)
	assert.Equal(t, 10, w.Size())
	assert.Equal(t, 0, w.Losses())
	assert.True(t, w.Tolerates(0))
}

func TestLossWindowCountsAndWraps(t *testing.T) {
	w := newLossWindow(4)

	w.Record(false)
	w.Record(false)
	w.Record(true)
	assert.Equal(t, 2, w.Losses())
	assert.True(t, w.Tolerates(2))
	assert.False(t, w.Tolerates(1))

	w.Record(false)
	assert.Equal(t, 3, w.Losses())

	// wraps onto the first loss
	w.Record(true)
	assert.Equal(t, 2, w.Losses())
	w.Record(true)
	assert.Equal(t, 1, w.Losses())

	for i := 0; i < 8; i++ {
		w.Record(false)
	}
	assert.Equal(t, 4, w.Losses())
}

func TestLossWindowMatchesRecount(t *testing.T) {
	w := newLossWindow(10)
	pattern := []bool{true, false, false, true, false, true, true, false, false, false, true, false, true}
	for i := 0; i < 50; i++ {
		w.Record(pattern[i%len(pattern)])

		recount := 0
		for _, ok := range w.outcomes {
			if !ok {
				recount++
			}
		}
		assert.Equal(t, recount, w.Losses(), "after %d records", i+1)
	}
}
