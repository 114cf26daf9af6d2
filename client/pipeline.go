package main

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
)

const queueSize = 256

// EventKind tags what the UI asked the sender to do.
type EventKind int

const (
	Submit EventKind = iota
	Shutdown
)

// Event is one item on the outbound queue. Shutdown rides the same queue as
// submitted text, so it is always sent after everything typed before it.
type Event struct {
	Kind EventKind
	Text string
}

// Pipeline connects the socket and the UI with three goroutines:
//
//	socket -> receiver -> mailbox -> renderer -> lines -> UI
//	UI -> outbox -> sender -> socket
//
// Each goroutine owns its end of the channels it uses; nothing else is shared.
type Pipeline struct {
	conn     Conn
	template model.Message
	loc      *time.Location
	log      *logger.Logger

	outbox  chan Event
	mailbox chan model.Message
	lines   chan Line

	// stopped is closed by Wait once the farewell is out. It releases the
	// receiver and renderer if the UI stopped reading lines.
	stopped chan struct{}

	senderDone   chan struct{}
	receiverDone chan struct{}
	rendererDone chan struct{}
	shutdownOnce sync.Once
	waitOnce     sync.Once
}

// NewPipeline prepares a pipeline for member in group. Nothing runs until
// Start.
func NewPipeline(conn Conn, member model.Member, group model.Group, loc *time.Location, log *logger.Logger) *Pipeline {
	if loc == nil {
		loc = time.Local
	}
	return &Pipeline{
		conn:         conn,
		template:     model.NewMessage(model.SendMessage, group, member, ""),
		loc:          loc,
		log:          log,
		outbox:       make(chan Event, queueSize),
		mailbox:      make(chan model.Message, queueSize),
		lines:        make(chan Line, queueSize),
		stopped:      make(chan struct{}),
		senderDone:   make(chan struct{}),
		receiverDone: make(chan struct{}),
		rendererDone: make(chan struct{}),
	}
}

func (p *Pipeline) Start() {
	go p.receive()
	go p.render()
	go p.send()
}

// Lines is closed after the renderer has delivered its last line.
func (p *Pipeline) Lines() <-chan Line {
	return p.lines
}

// Submit queues text for the server. It is dropped once the sender is gone.
func (p *Pipeline) Submit(text string) {
	p.push(Event{Kind: Submit, Text: text})
}

// Shutdown queues the farewell. Only the first call has an effect.
func (p *Pipeline) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.push(Event{Kind: Shutdown})
	})
}

func (p *Pipeline) push(ev Event) {
	select {
	case p.outbox <- ev:
	case <-p.senderDone:
		p.log.Debugf("sender gone, dropping event %d", ev.Kind)
	}
}

// Wait blocks until the sender has finished (normally after the farewell is
// written), then closes the socket and waits for the receiver and renderer.
func (p *Pipeline) Wait() {
	<-p.senderDone
	p.waitOnce.Do(func() {
		close(p.stopped)
		if err := p.conn.Close(); err != nil {
			p.log.WithError(err).Debug("close socket")
		}
	})
	<-p.receiverDone
	<-p.rendererDone
}

// receive decodes datagrams until the socket is closed or broken. A bad
// datagram is logged and skipped, never fatal.
func (p *Pipeline) receive() {
	defer close(p.receiverDone)
	defer close(p.mailbox)

	buf := make([]byte, model.MaxDatagramSize)
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			switch {
			case errors.Is(err, net.ErrClosed):
				return
			case transient(err):
				p.log.WithError(err).Debug("server unreachable")
				continue
			default:
				p.log.WithError(&model.TransportError{Op: "read", Err: err}).Error("receiver stopped")
				return
			}
		}

		msg, err := model.Decode(buf[:n])
		if err != nil {
			p.log.WithError(err).Warn("dropping datagram")
			continue
		}

		select {
		case p.mailbox <- msg:
		case <-p.stopped:
			return
		}
	}
}

// render turns messages into lines in arrival order.
func (p *Pipeline) render() {
	defer close(p.rendererDone)
	defer close(p.lines)

	for msg := range p.mailbox {
		line, err := Render(msg, p.loc)
		if err != nil {
			p.log.WithError(err).WithField("code", msg.Code.String()).Warn("dropping message")
			continue
		}
		select {
		case p.lines <- line:
		case <-p.stopped:
			return
		}
	}
}

// send writes outbound events using one reused message. The Shutdown event
// becomes an ExitServer datagram, written once, after which the sender exits.
func (p *Pipeline) send() {
	defer close(p.senderDone)

	msg := p.template
	for ev := range p.outbox {
		switch ev.Kind {
		case Submit:
			msg.SetCode(model.SendMessage)
		case Shutdown:
			msg.SetCode(model.ExitServer)
		default:
			p.log.Warnf("unknown outbound event %d", ev.Kind)
			continue
		}
		msg.SetText(ev.Text)
		msg.Touch()

		err := p.transmit(msg)
		switch {
		case err == nil:
		case transient(err):
			p.log.WithError(err).Warn("message lost")
		default:
			p.log.WithError(err).Error("sender stopped")
			return
		}

		if ev.Kind == Shutdown {
			if err == nil {
				p.log.Info("farewell sent")
			}
			return
		}
	}
}

func (p *Pipeline) transmit(msg model.Message) error {
	data, err := model.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := p.conn.Write(data); err != nil {
		return &model.TransportError{Op: "write", Addr: remoteOf(p.conn), Err: err}
	}
	return nil
}
