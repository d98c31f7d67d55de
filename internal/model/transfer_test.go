package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferStateTransitions(t *testing.T) {
	tests := []struct {
		from, to TransferState
		ok       bool
	}{
		{StateQuoting, StateBalanceChecked, true},
		{StateBalanceChecked, StateSubsidyResolved, true},
		{StateSubsidyResolved, StateSubmitted, true},
		{StateSubmitted, StateConfirmed, true},
		{StateQuoting, StateFailed, true},
		{StateBalanceChecked, StateFailed, true},
		{StateSubsidyResolved, StateFailed, true},
		{StateSubmitted, StateFailed, true},
		{StateQuoting, StateSubmitted, false},
		{StateConfirmed, StateFailed, false},
		{StateFailed, StateQuoting, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StateConfirmed.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSubmitted.Terminal())
}
