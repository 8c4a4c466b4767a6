// Package client is the entry point for talking to one vehicle: it wires
// the link, the param and log stores, and the connection handshake.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/crtplink/internal/commander"
	"github.com/danmuck/crtplink/internal/handshake"
	"github.com/danmuck/crtplink/internal/link"
	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/logstore"
	"github.com/danmuck/crtplink/internal/observability"
	"github.com/danmuck/crtplink/internal/param"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/protocol/toc"
)

var ErrNotReady = errors.New("client: handshake not complete")

type Client struct {
	cfg     Config
	link    *link.Link
	params  *param.Store
	logs    *logstore.Store
	console *link.Console
	coord   *handshake.Coordinator

	ready   atomic.Bool
	fetchMu sync.Mutex
}

// New wires a client over t. cache may be nil to always fetch.
func New(t link.Transport, cache toc.Cache, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	l := link.New(t)
	c := &Client{
		cfg:     cfg,
		link:    l,
		params:  param.NewStore(l, cache),
		logs:    logstore.NewStore(l, cache),
		console: link.NewConsole(cfg.OnConsole),
		coord:   handshake.NewCoordinator(cfg.HandshakeTimeout),
	}
	for port, h := range map[crtp.Port]link.Handler{
		crtp.PortConsole: c.console,
		crtp.PortParam:   c.params,
		crtp.PortLog:     c.logs,
	} {
		if err := l.Register(port, h); err != nil {
			return nil, err
		}
	}
	l.OnDisconnect(c.disconnected)
	return c, nil
}

func (c *Client) Link() *link.Link {
	return c.link
}

func (c *Client) Params() *param.Store {
	return c.params
}

func (c *Client) Logs() *logstore.Store {
	return c.logs
}

func (c *Client) ID() string {
	return c.link.ID()
}

func (c *Client) Connected() bool {
	return c.link.Connected()
}

// Ready reports whether the last handshake completed on the current link.
func (c *Client) Ready() bool {
	return c.ready.Load() && c.link.Connected()
}

// Connect opens the transport and runs the handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.link.Connect(ctx); err != nil {
		return err
	}
	if err := c.FetchTOCs(ctx); err != nil {
		logging.Warnf("client.Client.Connect id=%q handshake failed err=%v", c.ID(), err)
		return err
	}
	return nil
}

func (c *Client) Disconnect() error {
	c.ready.Store(false)
	return c.link.Disconnect()
}

// FetchTOCs resets logging, then synchronizes the param and log
// directories concurrently.
func (c *Client) FetchTOCs(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	c.ready.Store(false)

	key := c.cacheKey()
	force := c.cfg.ForceRefresh
	start := time.Now()
	err := c.coord.Run(ctx,
		handshake.Stage{
			Name: "reset",
			Steps: []handshake.Step{{
				Name: "logging",
				Issue: func(sig *handshake.Signal) error {
					return c.logs.Reset(func() { sig.Fire(nil) })
				},
			}},
		},
		handshake.Stage{
			Name: "toc",
			Steps: []handshake.Step{
				{
					Name: toc.ParamNamespace.Name,
					Issue: func(sig *handshake.Signal) error {
						return c.params.SyncTOC(key, force, tocDone(toc.ParamNamespace.Name, sig))
					},
				},
				{
					Name: toc.LogNamespace.Name,
					Issue: func(sig *handshake.Signal) error {
						return c.logs.SyncTOC(key, force, tocDone(toc.LogNamespace.Name, sig))
					},
				},
			},
		},
	)
	observability.RecordHandshake(time.Since(start), err == nil)
	if err != nil {
		c.params.Abort()
		c.logs.AbortTOC()
		return err
	}
	c.ready.Store(true)
	logging.Infof(
		"client.Client.FetchTOCs id=%q params=%d logvars=%d took=%s",
		c.ID(),
		c.params.Registry().Len(),
		c.logs.Registry().Len(),
		time.Since(start),
	)
	return nil
}

func tocDone(namespace string, sig *handshake.Signal) func(toc.Result) {
	return func(r toc.Result) {
		observability.RecordTOCFetch(namespace, r.FromCache, len(r.Snapshot.Items))
		sig.Fire(nil)
	}
}

func (c *Client) cacheKey() string {
	if c.cfg.CachePrefix != "" {
		return c.cfg.CachePrefix
	}
	return c.link.ID()
}

func (c *Client) disconnected(err error) {
	c.ready.Store(false)
	c.coord.Cancel(err)
	c.params.Abort()
	c.logs.Disconnected()
}

// Send transmits a prebuilt packet, such as one from commander.
func (c *Client) Send(p crtp.Packet) error {
	return c.link.Send(p)
}

// TakeOff climbs to the default height over the default duration.
func (c *Client) TakeOff() error {
	return c.TakeOffTo(commander.DefaultTakeOffHeight, commander.DefaultTakeOffDuration)
}

func (c *Client) TakeOffTo(height, duration float32) error {
	return c.send("takeoff", commander.TakeOff(height, duration))
}

func (c *Client) Land() error {
	return c.LandTo(commander.DefaultLandHeight, commander.DefaultLandDuration)
}

func (c *Client) LandTo(height, duration float32) error {
	return c.send("land", commander.Land(height, duration))
}

func (c *Client) Stop() error {
	return c.send("stop", commander.Stop())
}

func (c *Client) GoTo(relative bool, x, y, z, yaw, duration float32) error {
	return c.send("goto", commander.GoTo(relative, x, y, z, yaw, duration))
}

func (c *Client) GenericStop() error {
	return c.send("generic_stop", commander.GenericStop())
}

func (c *Client) GenericTakeOff(height float32) error {
	return c.send("generic_takeoff", commander.GenericTakeOff(height))
}

func (c *Client) Position(x, y, z, yaw float32) error {
	return c.send("position", commander.Position(x, y, z, yaw))
}

func (c *Client) send(what string, p crtp.Packet) error {
	if err := c.link.Send(p); err != nil {
		return fmt.Errorf("client: %s: %w", what, err)
	}
	logging.Debugf("client.Client.send cmd=%s id=%q", what, c.ID())
	return nil
}
