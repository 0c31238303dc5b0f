package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRaiseReportsOnlyTransitions(t *testing.T) {
	s := &Set{}
	assert.True(t, s.Raise("telemetry-gap"))
	assert.False(t, s.Raise("telemetry-gap"))
	assert.True(t, s.Active("telemetry-gap"))

	assert.True(t, s.Clear("telemetry-gap"))
	assert.False(t, s.Clear("telemetry-gap"))
	assert.False(t, s.Active("telemetry-gap"))

	assert.True(t, s.Raise("telemetry-gap"))
}

func TestConditionsAreIndependent(t *testing.T) {
	s := &Set{}
	assert.True(t, s.Raise("a"))
	assert.True(t, s.Raise("b"))
	assert.True(t, s.Clear("a"))
	assert.True(t, s.Active("b"))
	assert.False(t, s.Active("a"))
}
