package main

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
)

const defaultRelaySubject = "nchat"

// Publisher is the part of *nats.Conn the relay uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Relay copies every relayed message to NATS on
// <prefix>.<group>.<code>, using the wire encoding as payload.
type Relay struct {
	pub    Publisher
	prefix string
	log    *logger.Logger
}

// DialRelay connects to NATS. The returned close func drains the connection.
func DialRelay(url, prefix string, log *logger.Logger) (*Relay, func(), error) {
	nc, err := nats.Connect(url,
		nats.Name("nchat-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.WithError(err).Warn("NATS drain failed")
		}
	}
	return NewRelay(nc, prefix, log), closeFn, nil
}

func NewRelay(pub Publisher, prefix string, log *logger.Logger) *Relay {
	if prefix == "" {
		prefix = defaultRelaySubject
	}
	return &Relay{pub: pub, prefix: prefix, log: log}
}

func (r *Relay) Relayed(msg model.Message, _ int) {
	data, err := model.Encode(msg)
	if err != nil {
		r.log.WithError(err).Error("relay message not encoded")
		return
	}
	subject := r.Subject(msg)
	if err := r.pub.Publish(subject, data); err != nil {
		r.log.WithField("subject", subject).WithError(err).Warn("failed to publish to NATS")
	}
}

func (r *Relay) Joined(model.Member) {}

func (r *Relay) Left(model.Member) {}

// Subject is where msg is published.
func (r *Relay) Subject(msg model.Message) string {
	return strings.Join([]string{r.prefix, subjectToken(msg.Group.Name), msg.Code.String()}, ".")
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "\t", "_", "*", "_", ">", "_")

// subjectToken makes a group name safe as one NATS subject token.
func subjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return subjectReplacer.Replace(name)
}
