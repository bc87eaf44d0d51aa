package pool_test

import (
	"testing"

	"github.com/momentics/hioload-net/pool"
)

func TestBytePoolSizes(t *testing.T) {
	bp := pool.NewBytePool(128)
	b := bp.GetBuffer()
	if len(b) != 128 {
		t.Fatalf("expected 128 bytes, got %d", len(b))
	}
	bp.PutBuffer(b)
	b2 := bp.GetBuffer()
	if len(b2) != 128 {
		t.Errorf("reused buffer has wrong length %d", len(b2))
	}
	// undersized buffers are ignored
	bp.PutBuffer(make([]byte, 4))
	if got := len(bp.GetBuffer()); got != 128 {
		t.Errorf("pool handed out foreign buffer of %d bytes", got)
	}
}

func TestBytePoolDefaultSize(t *testing.T) {
	if pool.NewBytePool(0).Size() != 64*1024 {
		t.Error("default size should be 64 KiB")
	}
}
