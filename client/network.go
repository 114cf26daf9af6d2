package main

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"github.com/puyokura/nchat/model"
)

// Conn is the connected datagram socket the pipeline reads and writes.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Dial binds local and connects the socket to server, so Read only sees
// datagrams from the server.
func Dial(local, server string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("resolve local address %s: %w", local, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve server address %s: %w", server, err)
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s from %s: %w", server, local, err)
	}
	return conn, nil
}

// LocalMember is who this client claims to be. The server replaces the
// address with what it actually sees.
func LocalMember(nickname string, conn Conn) model.Member {
	var addr netip.AddrPort
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		addr = ua.AddrPort()
	} else if parsed, err := netip.ParseAddrPort(conn.LocalAddr().String()); err == nil {
		addr = parsed
	}
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	return model.NewMember(nickname, addr)
}

// Login asks the server to add us to group. The group name travels in both
// the group field and the text, which older servers read instead.
func Login(conn Conn, member model.Member, group string) error {
	msg := model.NewMessage(model.JoinGroup, model.NewGroup(group), member, group)
	data, err := model.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := conn.Write(data); err != nil {
		return &model.TransportError{Op: "write", Addr: remoteOf(conn), Err: err}
	}
	return nil
}

// transient reports socket errors that do not mean the socket is unusable.
// A connected UDP socket surfaces ICMP port unreachable as ECONNREFUSED on
// the next call, for example while the server restarts.
func transient(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func remoteOf(conn Conn) string {
	if rc, ok := conn.(interface{ RemoteAddr() net.Addr }); ok && rc.RemoteAddr() != nil {
		return rc.RemoteAddr().String()
	}
	return ""
}
