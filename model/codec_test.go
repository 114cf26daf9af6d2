package model

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage(code ControlCode) Message {
	sender := NewMember("alice", netip.MustParseAddrPort("127.0.0.1:9090"))
	return NewMessage(code, NewGroup(DefaultGroup), sender, "hi")
}

func TestRoundTrip(t *testing.T) {
	for _, code := range []ControlCode{SendMessage, JoinGroup, LeaveGroup, ExitServer, Error} {
		t.Run(code.String(), func(t *testing.T) {
			m := sampleMessage(code)
			data, err := Encode(m)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestRoundTripIPv6AndUnicode(t *testing.T) {
	sender := NewMember("ёжик 🦔", netip.MustParseAddrPort("[::1]:4000"))
	m := NewMessage(SendMessage, Group{Name: "rooms/ü", ID: 0}, sender, "line one\nline \"two\"")

	data, err := Encode(m)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestEncodeFieldNames(t *testing.T) {
	m := sampleMessage(JoinGroup)
	m.Timestamp = 1700000000

	data, err := Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"code": "JoinGroup",
		"timestamp": 1700000000,
		"group": {"name": "global", "id": 0},
		"sender": {"nickname": "alice", "address": "127.0.0.1:9090"},
		"msg": "hi"
	}`, string(data))
}

func TestEncodeRequiresSenderAddress(t *testing.T) {
	m := sampleMessage(SendMessage)
	m.Sender.Address = netip.AddrPort{}

	_, err := Encode(m)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestDecodeLegacyExitSpelling(t *testing.T) {
	raw := `{"code":"EixtServer","timestamp":1,"group":{"name":"global","id":0},` +
		`"sender":{"nickname":"bob","address":"10.0.0.2:9090"},"msg":""}`

	m, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, ExitServer, m.Code)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid := `{"code":"SendMessage","timestamp":1,"group":{"name":"global","id":0},` +
		`"sender":{"nickname":"bob","address":"10.0.0.2:9090"},"msg":"x"}`

	cases := map[string]struct {
		raw  []byte
		want error
	}{
		"empty":          {raw: nil},
		"not json":       {raw: []byte("hello")},
		"not utf8":       {raw: []byte{0xff, 0xfe, '{', '}'}, want: ErrNotUTF8},
		"trailing data":  {raw: []byte(valid + "x")},
		"unknown code":   {raw: []byte(`{"code":"Shout","timestamp":1,"group":{"name":"g","id":0},"sender":{"nickname":"b","address":"1.2.3.4:5"},"msg":""}`), want: ErrUnknownCode},
		"numeric code":   {raw: []byte(`{"code":1,"timestamp":1,"group":{"name":"g","id":0},"sender":{"nickname":"b","address":"1.2.3.4:5"},"msg":""}`)},
		"missing msg":    {raw: []byte(`{"code":"Error","timestamp":1,"group":{"name":"g","id":0},"sender":{"nickname":"b","address":"1.2.3.4:5"}}`), want: ErrMissingField},
		"missing group":  {raw: []byte(`{"code":"Error","timestamp":1,"sender":{"nickname":"b","address":"1.2.3.4:5"},"msg":""}`), want: ErrMissingField},
		"null sender":    {raw: []byte(`{"code":"Error","timestamp":1,"group":{"name":"g","id":0},"sender":null,"msg":""}`), want: ErrMissingField},
		"bad address":    {raw: []byte(`{"code":"Error","timestamp":1,"group":{"name":"g","id":0},"sender":{"nickname":"b","address":"localhost"},"msg":""}`)},
		"negative id":    {raw: []byte(`{"code":"Error","timestamp":1,"group":{"name":"g","id":-1},"sender":{"nickname":"b","address":"1.2.3.4:5"},"msg":""}`)},
		"array payload":  {raw: []byte(`[1,2,3]`)},
		"truncated json": {raw: []byte(valid[:40])},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var m Message
			var err error
			assert.NotPanics(t, func() { m, err = Decode(tc.raw) })
			require.Error(t, err)
			assert.Equal(t, Message{}, m)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, len(tc.raw), de.Size)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestStampOverridesSenderAddress(t *testing.T) {
	m := sampleMessage(SendMessage)
	m.Timestamp = 0
	src := netip.MustParseAddrPort("192.168.1.7:5555")

	m.Stamp(src)

	assert.Equal(t, src, m.Sender.Address)
	assert.Equal(t, "alice", m.Sender.Nickname)
	assert.NotZero(t, m.Timestamp)
}

func TestMessageTime(t *testing.T) {
	m := sampleMessage(SendMessage)
	m.Timestamp = 1700000000
	ts, err := m.Time()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts.Unix())

	m.Timestamp = 1 << 62
	_, err = m.Time()
	assert.ErrorIs(t, err, ErrBadTimestamp)
}

func TestControlCodeNames(t *testing.T) {
	for _, name := range []string{"SendMessage", "JoinGroup", "LeaveGroup", "ExitServer", "Error"} {
		code, err := ParseControlCode(name)
		require.NoError(t, err)
		assert.Equal(t, name, code.String())
	}

	_, err := ControlCode(42).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownCode)
	assert.Equal(t, "ControlCode(42)", ControlCode(42).String())
}
