package client

import (
	"context"
	"fmt"

	"github.com/danmuck/crtplink/internal/param"
	"github.com/danmuck/crtplink/internal/protocol/scalar"
	"github.com/danmuck/crtplink/internal/registry"
)

// ReadParam requests name and waits for the device's answer.
func (c *Client) ReadParam(ctx context.Context, name string) (scalar.Value, error) {
	v, ok := c.params.Registry().ByName(name)
	if !ok {
		return scalar.Value{}, fmt.Errorf("%w: %q", param.ErrUnknownParam, name)
	}
	return c.awaitParam(ctx, v, func() error { return c.params.Read(v) })
}

// SetParam parses raw as the param's declared kind, writes it, and waits for
// the ack. The returned value is what the device confirmed.
func (c *Client) SetParam(ctx context.Context, name, raw string) (scalar.Value, error) {
	v, ok := c.params.Registry().ByName(name)
	if !ok {
		return scalar.Value{}, fmt.Errorf("%w: %q", param.ErrUnknownParam, name)
	}
	val, err := scalar.Parse(v.Kind, raw)
	if err != nil {
		return scalar.Value{}, fmt.Errorf("%w: %w", param.ErrPrecondition, err)
	}
	return c.WriteParam(ctx, v, val)
}

func (c *Client) WriteParam(ctx context.Context, v *registry.Variable, val scalar.Value) (scalar.Value, error) {
	return c.awaitParam(ctx, v, func() error { return c.params.Write(v, val) })
}

func (c *Client) awaitParam(ctx context.Context, v *registry.Variable, issue func() error) (scalar.Value, error) {
	results := make(chan scalar.Value, 1)
	cancel := c.params.Subscribe(func(u *registry.Variable, val scalar.Value) {
		if u.ID != v.ID {
			return
		}
		select {
		case results <- val:
		default:
		}
	})
	defer cancel()

	if err := issue(); err != nil {
		return scalar.Value{}, err
	}
	ctx, stop := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer stop()
	select {
	case val := <-results:
		return val, nil
	case <-ctx.Done():
		return scalar.Value{}, fmt.Errorf("client: %s: %w", v.Key(), ctx.Err())
	}
}
