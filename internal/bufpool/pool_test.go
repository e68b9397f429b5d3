package bufpool

import "testing"

func TestGetSizes(t *testing.T) {
	cases := []struct {
		size    uint64
		wantCap int
	}{
		{4096, size128k},
		{size128k, size128k},
		{size128k + 1, size256k},
		{size512k, size512k},
		{size1m, size1m},
	}

	for _, tc := range cases {
		buf := Get(tc.size)
		if uint64(len(buf)) != tc.size {
			t.Errorf("Get(%d) len = %d, want %d", tc.size, len(buf), tc.size)
		}
		if cap(buf) != tc.wantCap {
			t.Errorf("Get(%d) cap = %d, want %d", tc.size, cap(buf), tc.wantCap)
		}
		Put(buf)
	}
}

func TestGetOversize(t *testing.T) {
	buf := Get(2 * size1m)
	if len(buf) != 2*size1m {
		t.Fatalf("oversize Get len = %d, want %d", len(buf), 2*size1m)
	}
	// Oversize buffers aren't pooled; Put must still be safe.
	Put(buf)
}

func TestPutRoundTrip(t *testing.T) {
	buf := Get(size256k)
	Put(buf)
	again := Get(size256k)
	if cap(again) != size256k {
		t.Fatalf("recycled buffer cap = %d, want %d", cap(again), size256k)
	}
	Put(again)
}
