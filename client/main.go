package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	closer := logger.Init(cfg.Log)
	defer closer.Close()
	log := logger.New("client")

	received, err := run(cfg, log)
	if err != nil {
		log.WithError(err).Error("client failed")
		fmt.Fprintln(os.Stderr, err)
		closer.Close()
		os.Exit(1)
	}
	fmt.Printf("receive %d messages in this session\n", received)
}

func run(cfg Config, log *logger.Logger) (int, error) {
	conn, err := Dial(cfg.Address, cfg.Server)
	if err != nil {
		return 0, err
	}

	member := LocalMember(cfg.Nickname, conn)
	if err := Login(conn, member, cfg.Group); err != nil {
		conn.Close()
		return 0, fmt.Errorf("login to %s: %w", cfg.Server, err)
	}
	log.WithFields(map[string]interface{}{
		"member": member.String(),
		"server": cfg.Server,
		"group":  cfg.Group,
	}).Info("joined")

	pipeline := NewPipeline(conn, member, model.NewGroup(cfg.Group), time.Local, log)
	pipeline.Start()

	program := tea.NewProgram(newChatModel(pipeline, pipeline.Lines(), cfg.Group), tea.WithAltScreen())
	final, runErr := program.Run()

	pipeline.Shutdown()
	pipeline.Wait()

	if runErr != nil {
		return 0, fmt.Errorf("ui: %w", runErr)
	}
	received := 0
	if m, ok := final.(chatModel); ok {
		received = m.received
	}
	return received, nil
}
