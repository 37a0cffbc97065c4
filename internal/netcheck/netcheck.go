// Package netcheck answers "can we reach the model at all" before any
// document work starts.
package netcheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/net/proxy"
)

// ErrNoConnectivity means no network route to the model host exists.
var ErrNoConnectivity = errors.New("no network connectivity")

// Checker reports whether the network is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// Dialer probes reachability by opening a TCP connection, honoring
// ALL_PROXY/NO_PROXY from the environment.
type Dialer struct {
	Addr    string // host:port
	Timeout time.Duration
}

func (d Dialer) Check(ctx context.Context) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := proxy.Dial(ctx, "tcp", d.Addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoConnectivity, d.Addr, err)
	}
	conn.Close()
	return nil
}

// Always is a Checker that never fails.
type Always struct{}

func (Always) Check(context.Context) error { return nil }

// HostFor returns the default probe address for a model provider.
func HostFor(provider string) string {
	switch provider {
	case "claude":
		return "api.anthropic.com:443"
	case "openai":
		return "api.openai.com:443"
	default:
		return "generativelanguage.googleapis.com:443"
	}
}
