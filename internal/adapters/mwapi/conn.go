package mwapi

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"
)

// ConnPool holds one HTTP client per upstream host. Clients are opened on
// first use, replaced after they are marked closed, and all released by
// Close at shutdown.
type ConnPool struct {
	mu      sync.Mutex
	conns   map[string]*conn
	timeout time.Duration
	closed  bool
	opened  int
}

type conn struct {
	client    *http.Client
	transport *http.Transport
	closed    bool
}

// NewConnPool creates an empty pool. timeout bounds each request made with
// a pooled client.
func NewConnPool(timeout time.Duration) *ConnPool {
	return &ConnPool{
		conns:   make(map[string]*conn),
		timeout: timeout,
	}
}

// Client returns the client for host, opening a new one if none exists or
// the previous one was closed.
func (p *ConnPool) Client(host string) (*http.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if c, ok := p.conns[host]; ok && !c.closed {
		return c.client, nil
	}
	t, _ := http.DefaultTransport.(*http.Transport)
	if t == nil {
		t = &http.Transport{}
	} else {
		t = t.Clone()
	}
	c := &conn{
		transport: t,
		client:    &http.Client{Transport: t, Timeout: p.timeout},
	}
	p.conns[host] = c
	p.opened++
	return c.client, nil
}

// MarkClosed drops the client of host so the next Client call opens a new
// one. In-flight requests on the old client are unaffected.
func (p *ConnPool) MarkClosed(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[host]; ok && !c.closed {
		c.closed = true
		c.transport.CloseIdleConnections()
		delete(p.conns, host)
	}
}

// Opened returns how many clients the pool has opened in total.
func (p *ConnPool) Opened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

// Close releases every client. Later Client calls fail with ErrPoolClosed.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for host, c := range p.conns {
		c.closed = true
		c.transport.CloseIdleConnections()
		delete(p.conns, host)
	}
	p.closed = true
	return nil
}

// connectionClosed reports whether err means the underlying connection is
// gone and the client should be replaced.
func connectionClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
