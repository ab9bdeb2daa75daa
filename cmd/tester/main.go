package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
	"whiteboard-lab/infrastructure/client"
	"whiteboard-lab/protocol"

	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// result is what one simulated client observed.
type result struct {
	name     string
	chats    int
	draws    int
	notices  int
	clears   int
	latency  []time.Duration
	sendErrs int
}

func main() {
	streamAddr := flag.String("stream", "localhost:5000", "Hub reliable address")
	datagramAddr := flag.String("datagram", "localhost:6000", "Hub best-effort address")
	clients := flag.Int("clients", 10, "Number of simulated clients")
	messages := flag.Int("messages", 20, "Chats and strokes sent by each client")
	interval := flag.Duration("interval", 10*time.Millisecond, "Pause between sends")
	settle := flag.Duration("settle", 500*time.Millisecond, "Wait after connecting and after sending")
	flag.Parse()

	logger := logs.GetLoggerFromLevel(slog.LevelWarn)
	ctx := context.Background()

	hubs := make([]*client.Client, *clients)
	for i := range hubs {
		c, err := client.Dial(ctx, client.Options{
			StreamAddr:   *streamAddr,
			DatagramAddr: *datagramAddr,
			Name:         fmt.Sprintf("tester-%02d", i),
			BufferSize:   4096,
		}, logger)
		if err != nil {
			log.Fatalf("client %d cannot connect: %v", i, err)
		}
		hubs[i] = c
	}

	results := make([]*result, len(hubs))
	var collectors sync.WaitGroup
	for i, c := range hubs {
		results[i] = &result{name: c.Name()}
		collectors.Add(1)
		go func() {
			defer collectors.Done()
			collect(c, results[i])
		}()
	}
	time.Sleep(*settle)

	start := time.Now()
	var g errgroup.Group
	for i, c := range hubs {
		g.Go(func() error {
			for n := range *messages {
				if err := c.SendChat(strconv.FormatInt(time.Now().UnixNano(), 10)); err != nil {
					results[i].sendErrs++
				}
				stroke := protocol.Draw{Color: "#336699", Width: 2, X1: float64(n), Y1: float64(i), X2: float64(n + 1), Y2: float64(i)}
				if err := c.SendDraw(stroke); err != nil {
					results[i].sendErrs++
				}
				time.Sleep(*interval)
			}
			return nil
		})
	}
	_ = g.Wait()
	sendDuration := time.Since(start)
	time.Sleep(*settle)

	for _, c := range hubs {
		_ = c.Close()
	}
	collectors.Wait()

	printReport(results, *clients, *messages, sendDuration)
}

// collect drains both channels until the client is closed.
func collect(c *client.Client, r *result) {
	reliable, datagrams := c.Reliable(), c.Datagrams()
	for reliable != nil || datagrams != nil {
		select {
		case evt, ok := <-reliable:
			if !ok {
				reliable = nil
				continue
			}
			switch evt.Kind {
			case protocol.KindChat:
				r.chats++
				if sent, err := strconv.ParseInt(evt.Chat.Msg, 10, 64); err == nil {
					r.latency = append(r.latency, time.Since(time.Unix(0, sent)))
				}
			case protocol.KindSystem:
				r.notices++
			case protocol.KindControl:
				r.clears++
			}
		case evt, ok := <-datagrams:
			if !ok {
				datagrams = nil
				continue
			}
			if evt.Kind == protocol.KindDraw {
				r.draws++
			}
		}
	}
}

func printReport(results []*result, clients, messages int, sendDuration time.Duration) {
	expected := (clients - 1) * messages

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Client", "Chats", "Strokes", "Notices", "Avg latency", "Max latency", "Send errors"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, r := range results {
		table.Append([]string{
			r.name,
			fmt.Sprintf("%d/%d", r.chats, expected),
			fmt.Sprintf("%d/%d", r.draws, expected),
			strconv.Itoa(r.notices),
			average(r.latency).String(),
			lo.Max(r.latency).String(),
			strconv.Itoa(r.sendErrs),
		})
	}
	table.SetFooter([]string{
		"total",
		strconv.Itoa(lo.SumBy(results, func(r *result) int { return r.chats })),
		strconv.Itoa(lo.SumBy(results, func(r *result) int { return r.draws })),
		strconv.Itoa(lo.SumBy(results, func(r *result) int { return r.notices })),
		"", "",
		strconv.Itoa(lo.SumBy(results, func(r *result) int { return r.sendErrs })),
	})
	fmt.Printf("%d clients sent %d chats and %d strokes each in %s\n\n",
		clients, messages, messages, sendDuration.Round(time.Millisecond))
	table.Render()
}

func average(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	return lo.Sum(samples) / time.Duration(len(samples))
}
