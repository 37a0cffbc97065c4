package netcheck

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestDialer_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	if err := (Dialer{Addr: ln.Addr().String()}).Check(context.Background()); err != nil {
		t.Errorf("expected reachable, got %v", err)
	}
}

func TestDialer_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	err = (Dialer{Addr: addr, Timeout: time.Second}).Check(context.Background())
	if !errors.Is(err, ErrNoConnectivity) {
		t.Errorf("expected ErrNoConnectivity, got %v", err)
	}
}

func TestHostFor(t *testing.T) {
	tests := map[string]string{
		"gemini": "generativelanguage.googleapis.com:443",
		"":       "generativelanguage.googleapis.com:443",
		"claude": "api.anthropic.com:443",
		"openai": "api.openai.com:443",
	}
	for provider, want := range tests {
		if got := HostFor(provider); got != want {
			t.Errorf("HostFor(%q) = %q, want %q", provider, got, want)
		}
	}
}
