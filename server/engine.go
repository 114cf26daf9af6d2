package main

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
)

// PacketConn is the slice of *net.UDPConn the engine needs.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Observer hears about everything the engine relays. Implementations must
// return quickly; they run on the engine loop.
type Observer interface {
	Relayed(msg model.Message, recipients int)
	Joined(member model.Member)
	Left(member model.Member)
}

const serverNickname = "server"

type packet struct {
	data []byte
	src  netip.AddrPort
}

// Engine relays datagrams between members. Run owns the State; everything
// else reaches it through Do.
type Engine struct {
	conn      PacketConn
	state     *State
	observers []Observer
	commands  chan func(*Engine)
	log       *logger.Logger
}

func NewEngine(conn PacketConn, state *State, log *logger.Logger, observers ...Observer) *Engine {
	return &Engine{
		conn:      conn,
		state:     state,
		observers: observers,
		commands:  make(chan func(*Engine)),
		log:       log,
	}
}

// Run processes datagrams and admin commands one at a time until ctx is
// done or the socket fails. It closes the socket on return.
func (e *Engine) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	packets := make(chan packet, 64)
	var readErr error
	go func() {
		defer close(packets)
		readErr = e.readLoop(packets, done)
	}()

	defer e.conn.Close()
	e.log.Infof("listening on %s", e.conn.LocalAddr())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-e.commands:
			cmd(e)
		case p, ok := <-packets:
			if !ok {
				return readErr
			}
			e.Handle(p.data, p.src)
		}
	}
}

func (e *Engine) readLoop(packets chan<- packet, done <-chan struct{}) error {
	buf := make([]byte, model.MaxDatagramSize)
	for {
		n, src, err := e.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return &model.TransportError{Op: "read", Err: err}
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case packets <- packet{data: data, src: unmap(src)}:
		case <-done:
			return nil
		}
	}
}

// Do runs fn on the engine loop and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func(*Engine)) error {
	finished := make(chan struct{})
	select {
	case e.commands <- func(e *Engine) {
		defer close(finished)
		fn(e)
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Handle decodes one datagram from src and dispatches it. Bad datagrams are
// logged and dropped.
func (e *Engine) Handle(raw []byte, src netip.AddrPort) {
	msg, err := model.Decode(raw)
	if err != nil {
		e.log.WithField("src", src.String()).WithError(err).Warn("dropping datagram")
		return
	}
	e.log.Debugf("%s %s from %s", msg.Code, msg.Group.Name, src)
	e.dispatch(msg, src)
}

func (e *Engine) dispatch(msg model.Message, src netip.AddrPort) {
	switch msg.Code {
	case model.SendMessage:
		e.handleSendMessage(msg, src)
	case model.JoinGroup:
		e.handleJoinGroup(msg, src)
	case model.LeaveGroup:
		e.handleLeaveGroup(msg, src)
	case model.ExitServer:
		e.handleExitServer(msg, src)
	case model.Error:
		// clients do not get to start error loops
	default:
		e.log.Warnf("unhandled control code %s from %s", msg.Code, src)
	}
}

func (e *Engine) handleSendMessage(msg model.Message, src netip.AddrPort) {
	msg.Stamp(src)
	e.broadcast(msg)
}

func (e *Engine) handleJoinGroup(msg model.Message, src netip.AddrPort) {
	name := msg.Group.Name
	if name == "" {
		name = msg.Text
	}
	if !e.state.GroupExists(name) {
		violation := model.UnknownGroup(name)
		e.log.Infof("%s from %s: %v", msg.Code, src, violation)
		msg.SetCode(model.Error)
		msg.SetText(violation.Error())
		msg.Stamp(src)
		if err := e.sendTo(msg, src); err != nil {
			e.log.WithError(err).Warn("error reply not sent")
		}
		return
	}

	msg.Stamp(src)
	if e.state.AddMember(msg.Sender) {
		e.log.Infof("%s joined %s", msg.Sender, name)
		e.notify(func(o Observer) { o.Joined(msg.Sender) })
	}
	e.broadcast(msg)
}

func (e *Engine) handleLeaveGroup(msg model.Message, src netip.AddrPort) {
	msg.Stamp(src)
	e.leave(msg)
}

// handleExitServer turns a farewell from a member into a leave announcement.
// ExitServer itself is never relayed.
func (e *Engine) handleExitServer(msg model.Message, src netip.AddrPort) {
	if !e.state.IsMember(src) {
		e.log.Debugf("ignoring exit from non-member %s", src)
		return
	}
	msg.SetCode(model.LeaveGroup)
	msg.Stamp(src)
	e.leave(msg)
}

func (e *Engine) leave(msg model.Message) {
	if e.state.RemoveMember(msg.Sender.Address) {
		e.log.Infof("%s left", msg.Sender)
		e.notify(func(o Observer) { o.Left(msg.Sender) })
	}
	e.broadcast(msg)
}

// Kick removes a member as if it had left and tells it why.
func (e *Engine) Kick(addr netip.AddrPort) bool {
	if !e.state.IsMember(addr) {
		return false
	}
	member := model.NewMember(e.state.Nickname(addr), addr)
	notice := model.NewMessage(model.Error, model.NewGroup(model.DefaultGroup), member, "removed by server")
	if err := e.sendTo(notice, addr); err != nil {
		e.log.WithError(err).Warn("kick notice not sent")
	}
	e.leave(model.NewMessage(model.LeaveGroup, model.NewGroup(model.DefaultGroup), member, ""))
	return true
}

// Announce broadcasts text from the server's own endpoint.
func (e *Engine) Announce(text string) int {
	self := model.NewMember(serverNickname, e.localAddr())
	return e.broadcast(model.NewMessage(model.SendMessage, model.NewGroup(model.DefaultGroup), self, text))
}

func (e *Engine) State() *State {
	return e.state
}

// broadcast sends msg to every member and returns how many sends succeeded.
// One failed send does not stop the others.
func (e *Engine) broadcast(msg model.Message) int {
	data, err := model.Encode(msg)
	if err != nil {
		e.log.WithError(err).Error("broadcast not encoded")
		return 0
	}

	sent := 0
	for _, m := range e.state.Members() {
		if err := e.write(data, m.Address); err != nil {
			e.log.WithError(err).Warn("broadcast send failed")
			continue
		}
		sent++
	}
	e.notify(func(o Observer) { o.Relayed(msg, sent) })
	return sent
}

func (e *Engine) sendTo(msg model.Message, addr netip.AddrPort) error {
	data, err := model.Encode(msg)
	if err != nil {
		return err
	}
	return e.write(data, addr)
}

func (e *Engine) write(data []byte, addr netip.AddrPort) error {
	if _, err := e.conn.WriteToUDPAddrPort(data, addr); err != nil {
		return &model.TransportError{Op: "write", Addr: addr.String(), Err: err}
	}
	return nil
}

func (e *Engine) notify(fn func(Observer)) {
	for _, o := range e.observers {
		fn(o)
	}
}

func (e *Engine) localAddr() netip.AddrPort {
	if ua, ok := e.conn.LocalAddr().(*net.UDPAddr); ok {
		return unmap(ua.AddrPort())
	}
	addr, err := netip.ParseAddrPort(e.conn.LocalAddr().String())
	if err != nil {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
	}
	return addr
}

// unmap folds IPv4-mapped IPv6 sources back to plain IPv4 so the same peer
// always has the same key.
func unmap(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
