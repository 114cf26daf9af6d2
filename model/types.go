package model

import (
	"fmt"
	"net/netip"
	"time"
)

// MaxDatagramSize is the largest datagram either side will read.
// Anything longer is truncated by the socket and fails to decode.
const MaxDatagramSize = 4096

// DefaultGroup is the group every server knows about.
const DefaultGroup = "global"

// ControlCode selects what a Message means and which handler processes it.
type ControlCode int

const (
	SendMessage ControlCode = iota
	JoinGroup
	LeaveGroup
	ExitServer
	Error
)

// legacyExitServer is how older peers spell ExitServer on the wire.
const legacyExitServer = "EixtServer"

var codeNames = [...]string{
	SendMessage: "SendMessage",
	JoinGroup:   "JoinGroup",
	LeaveGroup:  "LeaveGroup",
	ExitServer:  "ExitServer",
	Error:       "Error",
}

func (c ControlCode) Valid() bool {
	return c >= SendMessage && c <= Error
}

func (c ControlCode) String() string {
	if !c.Valid() {
		return fmt.Sprintf("ControlCode(%d)", int(c))
	}
	return codeNames[c]
}

func (c ControlCode) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, int(c))
	}
	return []byte(codeNames[c]), nil
}

func (c *ControlCode) UnmarshalText(text []byte) error {
	code, err := ParseControlCode(string(text))
	if err != nil {
		return err
	}
	*c = code
	return nil
}

// ParseControlCode maps a wire name to its ControlCode.
func ParseControlCode(name string) (ControlCode, error) {
	for code, n := range codeNames {
		if n == name {
			return ControlCode(code), nil
		}
	}
	if name == legacyExitServer {
		return ExitServer, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCode, name)
}

// Member is a chat participant. Its address, not its nickname, is its identity.
type Member struct {
	Nickname string         `json:"nickname"`
	Address  netip.AddrPort `json:"address"`
}

func NewMember(nickname string, address netip.AddrPort) Member {
	return Member{Nickname: nickname, Address: address}
}

func (m Member) String() string {
	return fmt.Sprintf("%s@%s", m.Nickname, m.Address)
}

// Group is a named broadcast scope. ID is carried on the wire but never used.
type Group struct {
	Name string `json:"name"`
	ID   uint64 `json:"id"`
}

func NewGroup(name string) Group {
	return Group{Name: name}
}

// Message is the only unit sent over the wire, one per datagram.
type Message struct {
	Code      ControlCode `json:"code"`
	Timestamp int64       `json:"timestamp"`
	Group     Group       `json:"group"`
	Sender    Member      `json:"sender"`
	Text      string      `json:"msg"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(code ControlCode, group Group, sender Member, text string) Message {
	return Message{
		Code:      code,
		Timestamp: time.Now().Unix(),
		Group:     group,
		Sender:    sender,
		Text:      text,
	}
}

// Touch refreshes the timestamp to now.
func (m *Message) Touch() {
	m.Timestamp = time.Now().Unix()
}

// Stamp applies the server's relay policy: the sender address becomes the
// endpoint the datagram actually came from and the timestamp becomes now.
func (m *Message) Stamp(source netip.AddrPort) {
	m.SetSenderAddress(source)
	m.Touch()
}

func (m *Message) SetSenderAddress(addr netip.AddrPort) {
	m.Sender.Address = addr
}

func (m *Message) SetCode(code ControlCode) {
	m.Code = code
}

func (m *Message) SetText(text string) {
	m.Text = text
}

var (
	minTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// Time converts the timestamp, rejecting values outside years 1 to 9999.
func (m Message) Time() (time.Time, error) {
	if m.Timestamp < minTime || m.Timestamp > maxTime {
		return time.Time{}, fmt.Errorf("%w: %d", ErrBadTimestamp, m.Timestamp)
	}
	return time.Unix(m.Timestamp, 0), nil
}
