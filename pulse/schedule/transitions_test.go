package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusScheduled},
		{StatusScheduled, StatusRunning},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
		{StatusRunning, StatusScheduled}, // recurring success
		{StatusRunning, StatusPending},   // retry armed
		{StatusFailed, StatusPending},
		{StatusPending, StatusCancelled},
		{StatusScheduled, StatusCancelled},
		{StatusCompleted, StatusScheduled},
		{StatusCancelled, StatusScheduled},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]Status{
		{StatusCompleted, StatusRunning},
		{StatusCompleted, StatusPending},
		{StatusCancelled, StatusRunning},
		{StatusFailed, StatusRunning},
		{StatusRunning, StatusRunning},
		{StatusCompleted, StatusCancelled},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestJobStatusHelpers(t *testing.T) {
	j := &Job{Status: StatusScheduled, Active: true}
	assert.True(t, j.Armable())
	assert.False(t, j.IsTerminal())

	j.Active = false
	assert.False(t, j.Armable())

	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, IsTerminalStatus(s))
	}
	assert.False(t, IsTerminalStatus(StatusRunning))
}
