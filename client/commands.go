package main

import (
	"fmt"
	"strconv"
	"strings"
	"whiteboard-lab/protocol"

	"github.com/gookit/color"
)

type commandKind int

const (
	commandChat commandKind = iota
	commandClear
	commandDraw
	commandQuit
	commandNone
)

const (
	defaultColor = "#000000"
	defaultWidth = 3
)

type command struct {
	kind commandKind
	text string
	draw protocol.Draw
}

// parseCommand turns one input line into a command.
// Plain text is chat; /clear, /draw x1 y1 x2 y2 [color] [width] and /quit are commands.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: commandNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: commandChat, text: line}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return command{kind: commandQuit}, nil
	case "/clear":
		return command{kind: commandClear}, nil
	case "/draw":
		return parseDraw(fields[1:])
	default:
		return command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

func parseDraw(args []string) (command, error) {
	if len(args) < 4 || len(args) > 6 {
		return command{}, fmt.Errorf("usage: /draw x1 y1 x2 y2 [color] [width]")
	}
	coords := make([]float64, 4)
	for i := range coords {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return command{}, fmt.Errorf("coordinate %q: %w", args[i], err)
		}
		coords[i] = v
	}
	d := protocol.Draw{
		Color: defaultColor,
		Width: defaultWidth,
		X1:    coords[0],
		Y1:    coords[1],
		X2:    coords[2],
		Y2:    coords[3],
	}
	if len(args) > 4 {
		d.Color = args[4]
	}
	if len(args) > 5 {
		w, err := strconv.ParseFloat(args[5], 64)
		if err != nil || w <= 0 {
			return command{}, fmt.Errorf("width %q must be a positive number", args[5])
		}
		d.Width = w
	}
	return command{kind: commandDraw, draw: d}, nil
}

// render formats an incoming event for the terminal. Unknown kinds render empty.
func render(evt protocol.Event) string {
	switch evt.Kind {
	case protocol.KindSystem:
		return color.FgYellow.Sprintf("* %s", evt.System.Msg)
	case protocol.KindChat:
		return fmt.Sprintf("%s %s", color.New(color.FgCyan, color.OpBold).Sprintf("<%s>", evt.Chat.User), evt.Chat.Msg)
	case protocol.KindControl:
		if evt.Control.Action == protocol.ActionClear {
			return color.FgRed.Sprint("~ board cleared")
		}
		return color.FgRed.Sprintf("~ control %s", evt.Control.Action)
	case protocol.KindDraw:
		d := evt.Draw
		return color.FgDarkGray.Sprintf("~ %s drew (%g,%g)->(%g,%g) %s w%g", d.User, d.X1, d.Y1, d.X2, d.Y2, d.Color, d.Width)
	default:
		return ""
	}
}
