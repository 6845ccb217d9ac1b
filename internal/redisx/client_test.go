package redisx

import (
	"testing"
	"time"
)

func TestNewAppliesTimeouts(t *testing.T) {
	c := New("localhost:6379")
	defer c.Close()

	opt := c.Options()
	if opt.ReadTimeout != 2*time.Second || opt.WriteTimeout != 2*time.Second {
		t.Fatalf("timeouts = %v/%v, want 2s/2s", opt.ReadTimeout, opt.WriteTimeout)
	}
	if opt.Addr != "localhost:6379" {
		t.Fatalf("addr = %s", opt.Addr)
	}
}
