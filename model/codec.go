package model

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"unicode/utf8"
)

// wireMessage mirrors Message with every field required.
type wireMessage struct {
	Code      *ControlCode `json:"code"`
	Timestamp *int64       `json:"timestamp"`
	Group     *wireGroup   `json:"group"`
	Sender    *wireMember  `json:"sender"`
	Text      *string      `json:"msg"`
}

type wireGroup struct {
	Name *string `json:"name"`
	ID   *uint64 `json:"id"`
}

type wireMember struct {
	Nickname *string `json:"nickname"`
	Address  *string `json:"address"`
}

// Encode serializes m into a single datagram payload.
func Encode(m Message) ([]byte, error) {
	if !m.Sender.Address.IsValid() {
		return nil, fmt.Errorf("encode message: %w: sender.address", ErrMissingField)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a datagram payload. Every failure is a *DecodeError.
func Decode(raw []byte) (Message, error) {
	m, err := decode(raw)
	if err != nil {
		return Message{}, &DecodeError{Size: len(raw), Err: err}
	}
	return m, nil
}

func decode(raw []byte) (Message, error) {
	if !utf8.Valid(raw) {
		return Message{}, ErrNotUTF8
	}

	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, err
	}

	switch {
	case w.Code == nil:
		return Message{}, fmt.Errorf("%w: code", ErrMissingField)
	case w.Timestamp == nil:
		return Message{}, fmt.Errorf("%w: timestamp", ErrMissingField)
	case w.Group == nil || w.Group.Name == nil || w.Group.ID == nil:
		return Message{}, fmt.Errorf("%w: group", ErrMissingField)
	case w.Sender == nil || w.Sender.Nickname == nil || w.Sender.Address == nil:
		return Message{}, fmt.Errorf("%w: sender", ErrMissingField)
	case w.Text == nil:
		return Message{}, fmt.Errorf("%w: msg", ErrMissingField)
	}

	addr, err := netip.ParseAddrPort(*w.Sender.Address)
	if err != nil {
		return Message{}, fmt.Errorf("sender address: %w", err)
	}

	return Message{
		Code:      *w.Code,
		Timestamp: *w.Timestamp,
		Group:     Group{Name: *w.Group.Name, ID: *w.Group.ID},
		Sender:    Member{Nickname: *w.Sender.Nickname, Address: addr},
		Text:      *w.Text,
	}, nil
}
