// Package toc synchronizes a remote table of contents (the param or log
// variable directory) and caches it by (hash, count).
package toc

import (
	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/protocol/scalar"
)

// Descriptor describes one remote variable.
type Descriptor struct {
	ID       uint16      `toml:"id" json:"id"`
	Group    string      `toml:"group" json:"group"`
	Name     string      `toml:"name" json:"name"`
	Kind     scalar.Kind `toml:"type" json:"type"`
	ReadOnly bool        `toml:"read_only" json:"read_only"`
}

// Key is the "group/name" lookup key.
func (d Descriptor) Key() string {
	return d.Group + "/" + d.Name
}

// Snapshot is one persisted directory.
type Snapshot struct {
	Hash  uint32       `toml:"hash" json:"hash"`
	Count uint16       `toml:"count" json:"count"`
	Items []Descriptor `toml:"items" json:"items"`
}

// Complete reports whether the descriptor list matches the announced count.
func (s Snapshot) Complete() bool {
	return len(s.Items) == int(s.Count)
}

// Matches reports whether info announces the same directory version.
func (s Snapshot) Matches(info Info) bool {
	return s.Hash == info.Hash && s.Count == info.Count
}

// Cache persists snapshots across sessions.
type Cache interface {
	Get(key string) (Snapshot, bool)
	Put(key string, snap Snapshot) error
}

// Sink receives descriptors as they are learned.
type Sink interface {
	Reset()
	Put(d Descriptor)
}

// Namespace binds the synchronizer to one directory.
type Namespace struct {
	Name   string
	Port   crtp.Port
	Decode ItemDecoder
}

var (
	ParamNamespace = Namespace{Name: "params", Port: crtp.PortParam, Decode: DecodeParamItem}
	LogNamespace   = Namespace{Name: "logvars", Port: crtp.PortLog, Decode: DecodeLogItem}
)

// CacheKey scopes a device key to this namespace.
func (n Namespace) CacheKey(device string) string {
	return device + "/" + n.Name
}
