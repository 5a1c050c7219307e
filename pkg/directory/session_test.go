package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionDynamicFlagSurvivesReset(t *testing.T) {
	s := NewSession()
	s.MarkDynamic("group-a")
	s.Store("configAssignments", []string{"x"})

	s.Reset("configAssignments")

	_, ok := s.Cached("configAssignments")
	assert.False(t, ok)
	assert.True(t, s.IsDynamic("group-a"), "dynamic flag must be sticky across cache resets")
}

func TestSessionResetAllClearsEverything(t *testing.T) {
	s := NewSession()
	s.MarkDynamic("group-a")
	s.Store("appAssignments", 42)

	s.ResetAll()

	_, ok := s.Cached("appAssignments")
	assert.False(t, ok)
	assert.False(t, s.IsDynamic("group-a"))
}

func TestSessionResetOnlyNamedDomains(t *testing.T) {
	s := NewSession()
	s.Store("configAssignments", 1)
	s.Store("complianceAssignments", 2)

	s.Reset("configAssignments")

	_, ok := s.Cached("configAssignments")
	assert.False(t, ok)
	v, ok := s.Cached("complianceAssignments")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
