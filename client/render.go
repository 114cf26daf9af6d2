package main

import (
	"fmt"
	"time"

	"github.com/puyokura/nchat/model"
)

const timeLayout = "2006-01-02 15:04:05 -07:00"

// Line is a rendered history entry. Code picks its style in the UI.
type Line struct {
	Code model.ControlCode
	Text string
}

// Render formats msg for the history, with the timestamp in loc. It only
// fails on a timestamp that cannot be shown.
func Render(msg model.Message, loc *time.Location) (Line, error) {
	ts, err := msg.Time()
	if err != nil {
		return Line{}, err
	}
	when := ts.In(loc).Format(timeLayout)
	from := msg.Sender

	var text string
	switch msg.Code {
	case model.Error:
		text = fmt.Sprintf("server error: %s", msg.Text)
	case model.JoinGroup:
		text = fmt.Sprintf("%s has joined the group -- %s", from, when)
	case model.LeaveGroup:
		text = fmt.Sprintf("%s has left the group -- %s", from, when)
	case model.ExitServer:
		text = fmt.Sprintf("%s has exit the server -- %s", from, when)
	case model.SendMessage:
		text = fmt.Sprintf("~> %s -- %s <~\n%s", from, when, msg.Text)
	default:
		return Line{}, fmt.Errorf("%w: %s", model.ErrUnknownCode, msg.Code)
	}
	return Line{Code: msg.Code, Text: text}, nil
}
