package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIncQueryIncrementsNamedCounter(t *testing.T) {
	s := New("stats-test-a")
	s.IncQuery("udp", "A", "NOERROR")
	s.IncQuery("udp", "A", "NOERROR")
	require.Contains(t, s.QueriesTotal.String(), `"udp.A.NOERROR":2`)
}

func TestSetUpstreamHealthReflectsLatestValue(t *testing.T) {
	s := New("stats-test-b")
	s.SetUpstreamHealth("127.0.0.1:53", true)
	require.Contains(t, s.UpstreamHealthStatus.String(), `"127.0.0.1:53":1`)
	s.SetUpstreamHealth("127.0.0.1:53", false)
	require.Contains(t, s.UpstreamHealthStatus.String(), `"127.0.0.1:53":0`)
}

func TestHistogramObserveBucketsAndCounts(t *testing.T) {
	h := newHistogram("stats-test-histogram")
	h.Observe(0.002)
	h.Observe(10)
	snap := h.snapshot()
	require.EqualValues(t, 2, snap["count"])
	require.EqualValues(t, 1, snap["le_0.005"])
	require.EqualValues(t, 1, snap["le_inf"])
}

func TestNewToleratesRepeatRegistration(t *testing.T) {
	require.NotPanics(t, func() {
		New("stats-test-dup")
		New("stats-test-dup")
	})
}
