package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/netip"
	"strings"
)

const consoleHelp = `Available commands:
members               - list member endpoints
groups                - list known groups
group add <name>      - make a new group joinable
kick <host:port>      - remove a member and announce it left
broadcast <message>   - send a message from the server to every member
stop                  - shut the server down`

// Console runs admin commands typed on the server's stdin. Every command
// goes through Engine.Do, so the engine loop stays the only writer.
type Console struct {
	engine *Engine
	out    io.Writer
	stop   func()
}

func NewConsole(engine *Engine, out io.Writer, stop func()) *Console {
	return &Console{engine: engine, out: out, stop: stop}
}

// Run reads lines until in is exhausted, ctx ends or stop is typed.
func (c *Console) Run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(c.out, "Server console ready. Type 'help' for commands.")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !c.Execute(ctx, scanner.Text()) {
			c.stop()
			return
		}
	}
}

// Execute runs one command line and reports whether the console should
// keep going.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
	case "stop":
		fmt.Fprintln(c.out, "Stopping server...")
		return false
	case "members":
		c.handleMembers(ctx)
	case "groups":
		c.handleGroups(ctx)
	case "group":
		c.handleGroup(ctx, args)
	case "kick":
		c.handleKick(ctx, args)
	case "broadcast":
		c.handleBroadcast(ctx, args)
	default:
		fmt.Fprintln(c.out, "Unknown command.")
	}
	return true
}

func (c *Console) do(ctx context.Context, fn func(*Engine)) bool {
	if err := c.engine.Do(ctx, fn); err != nil {
		fmt.Fprintln(c.out, "Engine unavailable:", err)
		return false
	}
	return true
}

func (c *Console) handleMembers(ctx context.Context) {
	var lines []string
	ok := c.do(ctx, func(e *Engine) {
		for _, m := range e.State().Members() {
			lines = append(lines, m.String())
		}
	})
	if !ok {
		return
	}
	if len(lines) == 0 {
		fmt.Fprintln(c.out, "No members.")
		return
	}
	fmt.Fprintf(c.out, "%d members:\n  %s\n", len(lines), strings.Join(lines, "\n  "))
}

func (c *Console) handleGroups(ctx context.Context) {
	var groups []string
	if c.do(ctx, func(e *Engine) { groups = e.State().Groups() }) {
		fmt.Fprintln(c.out, "Groups:", strings.Join(groups, ", "))
	}
}

func (c *Console) handleGroup(ctx context.Context, args []string) {
	if len(args) != 2 || args[0] != "add" {
		fmt.Fprintln(c.out, "Usage: group add <name>")
		return
	}
	var added bool
	if !c.do(ctx, func(e *Engine) { added = e.State().AddGroup(args[1]) }) {
		return
	}
	if added {
		fmt.Fprintf(c.out, "Group %s added.\n", args[1])
	} else {
		fmt.Fprintf(c.out, "Group %s already exists.\n", args[1])
	}
}

func (c *Console) handleKick(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: kick <host:port>")
		return
	}
	addr, err := netip.ParseAddrPort(args[0])
	if err != nil {
		fmt.Fprintln(c.out, "Bad address:", err)
		return
	}
	var kicked bool
	if !c.do(ctx, func(e *Engine) { kicked = e.Kick(addr) }) {
		return
	}
	if kicked {
		fmt.Fprintln(c.out, "Member kicked.")
	} else {
		fmt.Fprintln(c.out, "Member not found.")
	}
}

func (c *Console) handleBroadcast(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: broadcast <message>")
		return
	}
	text := strings.Join(args, " ")
	var sent int
	if c.do(ctx, func(e *Engine) { sent = e.Announce(text) }) {
		fmt.Fprintf(c.out, "Broadcast sent to %d members.\n", sent)
	}
}
