package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthyToUnhealthyAfterThreeFailures(t *testing.T) {
	s := NewServer("127.0.0.1:53")
	require.True(t, s.Healthy())
	s.RecordFailure()
	require.True(t, s.Healthy())
	s.RecordFailure()
	require.True(t, s.Healthy())
	s.RecordFailure()
	require.False(t, s.Healthy())
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	s := NewServer("127.0.0.1:53")
	s.RecordFailure()
	s.RecordFailure()
	s.RecordSuccess(10 * time.Millisecond)
	s.RecordFailure()
	s.RecordFailure()
	require.True(t, s.Healthy())
}

func TestProbeRestoresHealth(t *testing.T) {
	s := NewServer("127.0.0.1:53")
	for i := 0; i < 3; i++ {
		s.RecordFailure()
	}
	require.False(t, s.Healthy())
	s.RecordSuccess(5 * time.Millisecond)
	require.True(t, s.Healthy())
}

func TestSelectExcludesUnhealthy(t *testing.T) {
	p := NewPool([]string{"10.0.0.1:53", "10.0.0.2:53"}, NewClient(time.Second), 2, nil)
	bad := p.Servers()[0]
	for i := 0; i < 3; i++ {
		bad.RecordFailure()
	}
	got := p.Select()
	require.Equal(t, p.Servers()[1].Addr, got.Addr)
}

func TestSelectPrefersLowerLatency(t *testing.T) {
	p := NewPool([]string{"10.0.0.1:53", "10.0.0.2:53"}, NewClient(time.Second), 2, nil)
	p.Servers()[0].RecordSuccess(50 * time.Millisecond)
	p.Servers()[1].RecordSuccess(5 * time.Millisecond)
	got := p.Select()
	require.Equal(t, p.Servers()[1].Addr, got.Addr)
}

func TestSelectParallelReturnsUpToK(t *testing.T) {
	p := NewPool([]string{"10.0.0.1:53", "10.0.0.2:53", "10.0.0.3:53"}, NewClient(time.Second), 2, nil)
	got := p.SelectParallel()
	require.Len(t, got, 2)
}

func TestDueForProbeRespectsInterval(t *testing.T) {
	s := NewServer("127.0.0.1:53")
	for i := 0; i < 3; i++ {
		s.RecordFailure()
	}
	require.False(t, s.DueForProbe(time.Now()))
	require.True(t, s.DueForProbe(time.Now().Add(31*time.Second)))
}
