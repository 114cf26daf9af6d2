package main

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/puyokura/nchat/model"
)

type delivery struct {
	to  netip.AddrPort
	raw []byte
	msg model.Message
}

// fakeConn is an in-memory PacketConn. Tests push datagrams with deliver and
// inspect everything written with sent.
type fakeConn struct {
	local  *net.UDPAddr
	inbox  chan packet
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []delivery
	broken map[netip.AddrPort]bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		local:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080},
		inbox:  make(chan packet, 16),
		closed: make(chan struct{}),
		broken: make(map[netip.AddrPort]bool),
	}
}

func (c *fakeConn) deliver(raw []byte, src netip.AddrPort) {
	c.inbox <- packet{data: raw, src: src}
}

func (c *fakeConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	select {
	case p := <-c.inbox:
		return copy(b, p.data), p.src, nil
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (c *fakeConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken[addr] {
		return 0, errors.New("connection refused")
	}
	raw := append([]byte(nil), b...)
	msg, _ := model.Decode(raw)
	c.writes = append(c.writes, delivery{to: addr, raw: raw, msg: msg})
	return len(b), nil
}

func (c *fakeConn) LocalAddr() net.Addr { return c.local }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) breakPeer(addr netip.AddrPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken[addr] = true
}

func (c *fakeConn) sent() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.writes...)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}

type recordingObserver struct {
	mu       sync.Mutex
	relayed  []model.Message
	joined   []model.Member
	left     []model.Member
	received []int
}

func (o *recordingObserver) Relayed(msg model.Message, recipients int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.relayed = append(o.relayed, msg)
	o.received = append(o.received, recipients)
}

func (o *recordingObserver) Joined(m model.Member) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joined = append(o.joined, m)
}

func (o *recordingObserver) Left(m model.Member) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left = append(o.left, m)
}
