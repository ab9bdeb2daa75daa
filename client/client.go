package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"whiteboard-lab/infrastructure/client"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	StreamAddr   string        `env:"WHITEBOARD_STREAM_ADDR,default=localhost:5000" validate:"required,hostname_port"`
	DatagramAddr string        `env:"WHITEBOARD_DATAGRAM_ADDR,default=localhost:6000" validate:"required,hostname_port"`
	Username     string        `env:"WHITEBOARD_USERNAME"`
	DialTimeout  time.Duration `env:"WHITEBOARD_DIAL_TIMEOUT,default=5s" validate:"gt=0"`
	LogLevel     string        `env:"LOG_LEVEL,default=WARN"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Configuration
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect both channels
	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	hub, err := client.Dial(dialCtx, client.Options{
		StreamAddr:   config.StreamAddr,
		DatagramAddr: config.DatagramAddr,
		Name:         config.Username,
	}, log)
	cancel()
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = hub.Close() }()

	fmt.Println(color.New(color.BgBlack, color.FgGreen).Sprintf(" connected to %s as %q ", config.StreamAddr, config.Username))
	fmt.Println(color.FgDarkGray.Sprint("type to chat, /draw x1 y1 x2 y2 [color] [width], /clear, /quit"))

	// 4. Print everything the hub sends
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		datagrams := hub.Datagrams()
		for {
			select {
			case evt, ok := <-hub.Reliable():
				if !ok {
					return
				}
				fmt.Println(render(evt))
			case evt, ok := <-datagrams:
				if !ok {
					datagrams = nil
					continue
				}
				fmt.Println(render(evt))
			}
		}
	}()

	// 5. Read commands from stdin
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case <-disconnected:
			return exitRuntime, fmt.Errorf("hub closed the connection")
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			quit, err := execute(hub, line)
			if err != nil {
				fmt.Println(color.FgRed.Sprintf("! %v", err))
			}
			if quit {
				return exitOK, nil
			}
		}
	}
}

func execute(hub *client.Client, line string) (bool, error) {
	cmd, err := parseCommand(line)
	if err != nil {
		return false, err
	}
	switch cmd.kind {
	case commandQuit:
		return true, nil
	case commandChat:
		return false, hub.SendChat(cmd.text)
	case commandClear:
		return false, hub.Clear()
	case commandDraw:
		return false, hub.SendDraw(cmd.draw)
	default:
		return false, nil
	}
}
