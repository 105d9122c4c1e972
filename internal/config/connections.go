package config

import (
	"fmt"
	"sort"
	"sync"
)

// Connection is a named database connection shared by the steps of a
// transformation.
type Connection struct {
	Name string `json:"name" yaml:"name"`
	// Kind selects the storage backend: postgres, mssql, mysql or sqlite.
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`
}

// Connections is a concurrency-safe registry of named connections.
type Connections struct {
	mu sync.RWMutex
	m  map[string]Connection
}

// NewConnections returns a registry holding conns. Later duplicates replace
// earlier ones.
func NewConnections(conns ...Connection) *Connections {
	c := &Connections{m: make(map[string]Connection, len(conns))}
	for _, conn := range conns {
		c.m[conn.Name] = conn
	}
	return c
}

// Add registers conn, replacing any connection with the same name.
func (c *Connections) Add(conn Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[conn.Name] = conn
}

// Get returns the connection called name.
func (c *Connections) Get(name string) (Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.m[name]
	if !ok {
		return Connection{}, fmt.Errorf("config: unknown connection %q", name)
	}
	return conn, nil
}

// Remove drops the connection called name.
func (c *Connections) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, name)
}

// List returns the connections sorted by name.
func (c *Connections) List() []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Connection, 0, len(c.m))
	for _, conn := range c.m {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
