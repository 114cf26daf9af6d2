package main

import (
	"errors"
	"testing"

	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func TestRelayPublishesWireEncoding(t *testing.T) {
	pub := &fakePublisher{}
	relay := NewRelay(pub, "", logger.Nop())

	msg := model.NewMessage(model.SendMessage, model.NewGroup("global"), model.NewMember("alice", alice), "hi")
	relay.Relayed(msg, 3)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "nchat.global.SendMessage", pub.msgs[0].subject)
	got, err := model.Decode(pub.msgs[0].data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestRelaySubjectTokens(t *testing.T) {
	relay := NewRelay(&fakePublisher{}, "chat.prod", logger.Nop())
	msg := model.NewMessage(model.LeaveGroup, model.NewGroup("team a.*>"), model.NewMember("bob", bob), "")

	assert.Equal(t, "chat.prod.team_a___.LeaveGroup", relay.Subject(msg))

	msg.Group.Name = ""
	assert.Equal(t, "chat.prod._.LeaveGroup", relay.Subject(msg))
}

func TestRelayPublishFailureIsNotFatal(t *testing.T) {
	relay := NewRelay(&fakePublisher{err: errors.New("nats: connection closed")}, "", logger.Nop())
	msg := model.NewMessage(model.SendMessage, model.NewGroup("global"), model.NewMember("alice", alice), "hi")

	assert.NotPanics(t, func() { relay.Relayed(msg, 1) })
}
