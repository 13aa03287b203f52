package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsZeroedFullSizeBuffer(t *testing.T) {
	p := NewUDPPool()
	b := p.Acquire()
	require.Len(t, b.Bytes(), 4096)
	for _, c := range b.Bytes() {
		require.Zero(t, c)
	}
}

func TestAcquireAfterReleaseReturnsZeroedBuffer(t *testing.T) {
	p := New(64, 10)
	b := p.Acquire()
	b.Bytes()[0] = 0xAB
	p.Release(b)

	b2 := p.Acquire()
	require.Len(t, b2.Bytes(), 64)
	require.Zero(t, b2.Bytes()[0])
}

func TestReleaseBeyondLimitDropsBuffer(t *testing.T) {
	s := &shard{limit: 1}
	p := &Pool{size: 16, shards: []*shard{s}}
	b1 := &Buf{b: make([]byte, 16), shard: s}
	b2 := &Buf{b: make([]byte, 16), shard: s}
	p.Release(b1)
	p.Release(b2)
	require.Len(t, s.free, 1)
}

func TestReleaseNilIsSafe(t *testing.T) {
	p := NewTCPPool()
	require.NotPanics(t, func() { p.Release(nil) })
}
