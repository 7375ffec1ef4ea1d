// voicebridge-console — operator dashboard process.
// Runs its own broker link, inbound queue and drain, places calls, and polls
// call status on a bounded interval. Everything the server relays over the
// topic lands in the local message history, visible with the history command.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/pkg/app"
	"github.com/voicebridge/voicebridge/pkg/broker"
	"github.com/voicebridge/voicebridge/pkg/config"
	"github.com/voicebridge/voicebridge/pkg/domain/call"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/persistence"
	"github.com/voicebridge/voicebridge/pkg/logger"
	"github.com/voicebridge/voicebridge/pkg/queue"
	"github.com/voicebridge/voicebridge/pkg/telephony"
	"github.com/voicebridge/voicebridge/pkg/voice"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

const (
	pollInterval = 10 * time.Second
	historyPage  = 20
)

type console struct {
	cfg     *config.Config
	link    *broker.Link
	drain   *app.HistoryService
	store   persistence.HistoryStore
	tel     telephony.Client
	voice   *voice.Builder
	current *call.Call

	pollCancel context.CancelFunc
}

func main() {
	configPath := flag.String("config", "voicebridge.yaml", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "voicebridge-console:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Console output belongs to the operator; keep log noise down.
	logger.SetLevelFromString("warn")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.New()
	link := broker.New(broker.Config{
		URL:      cfg.Broker.URL,
		ClientID: fmt.Sprintf("voicebridge-console-%s", uuid.NewString()[:8]),
		Topic:    cfg.Broker.Topic,
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
	}, func(ev wire.Event) {
		q.Push(ev)
	})
	if err := link.Connect(); err != nil {
		return err
	}
	defer link.Disconnect()

	store := persistence.NewMemoryHistoryStore()
	drain := app.NewHistoryService(q, store, nil)
	go drain.Run(ctx, 2*time.Second)

	c := &console{
		cfg:   cfg,
		link:  link,
		drain: drain,
		store: store,
		tel: telephony.NewTwilioClient(telephony.Config{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			FromNumber: cfg.Twilio.FromNumber,
		}),
		voice: voice.NewBuilder(cfg.Twilio.Voice, cfg.ProcessInputURL()),
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "voicebridge> ",
		HistoryFile: historyFilePath(),
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("call"),
			readline.PcItem("status"),
			readline.PcItem("history"),
			readline.PcItem("hangup"),
			readline.PcItem("ping"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("voicebridge console — type 'help' for commands")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if quit := c.execute(strings.TrimSpace(line)); quit {
			break
		}
	}

	c.stopPolling()
	return nil
}

// execute runs one operator command. Returns true to quit.
func (c *console) execute(line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "call":
		c.cmdCall(args)
	case "status":
		c.cmdStatus()
	case "history":
		c.cmdHistory(args)
	case "hangup":
		c.cmdHangup()
	case "ping":
		c.cmdPing()
	case "help":
		fmt.Println("  call <+E164>   place an outbound call")
		fmt.Println("  status         show the current call's status")
		fmt.Println("  history [page] show the message history")
		fmt.Println("  hangup         end the current call")
		fmt.Println("  ping           publish a test event on the broker topic")
		fmt.Println("  quit           exit")
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q — try 'help'\n", cmd)
	}
	return false
}

func (c *console) cmdCall(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: call <+E164>")
		return
	}
	to := args[0]
	if !telephony.ValidPhoneNumber(to) {
		fmt.Println("please enter a valid phone number in E.164 format, e.g. +15551234567")
		return
	}

	doc, err := c.voice.Greeting()
	if err != nil {
		fmt.Println("error building voice document:", err)
		return
	}
	sid, err := c.tel.PlaceCall(to, doc, c.cfg.StatusCallbackURL())
	if err != nil {
		fmt.Println("error placing call:", err)
		return
	}

	fmt.Printf("call placed, SID: %s\n", sid)
	c.stopPolling() // placing a new call supersedes any previous poll loop
	c.current = call.NewCall(sid, to)
	c.current.PullEvents() // local view only, nothing to dispatch

	pollCtx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	go c.pollStatus(pollCtx, c.current)
}

// pollStatus re-checks the provider status on a fixed interval until the
// call reaches a terminal state or the operator supersedes the loop. Only
// status changes are announced.
func (c *console) pollStatus(ctx context.Context, cur *call.Call) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := c.tel.FetchStatus(cur.Sid)
			if err != nil {
				logger.WarnCF("console", "Status poll failed", map[string]interface{}{
					"sid":   cur.Sid,
					"error": err.Error(),
				})
				continue
			}
			if cur.MarkPolled(status) {
				fmt.Printf("\rcall %s: %s\nvoicebridge> ", cur.Sid, status)
			}
			if err := cur.ApplyStatus(status); err == nil {
				cur.PullEvents()
			}
			if status.Terminal() {
				fmt.Printf("\rcall %s finished: %s\nvoicebridge> ", cur.Sid, status)
				return
			}
		}
	}
}

func (c *console) cmdStatus() {
	if c.current == nil {
		fmt.Println("no call placed yet")
		return
	}
	status, err := c.tel.FetchStatus(c.current.Sid)
	if err != nil {
		fmt.Println("error fetching status:", err)
		return
	}
	fmt.Printf("call %s → %s: %s\n", c.current.Sid, c.current.To, status)
}

func (c *console) cmdHistory(args []string) {
	page := 0
	if len(args) == 1 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			page = n - 1
		}
	}

	// Pull anything pending before rendering so the view is current.
	if _, err := c.drain.DrainTick(); err != nil {
		fmt.Println("error draining events:", err)
	}

	items, err := c.store.Page(page*historyPage, historyPage)
	if err != nil {
		fmt.Println("error reading history:", err)
		return
	}
	total, _ := c.store.Count()

	if len(items) == 0 {
		fmt.Println("(no messages on this page)")
		return
	}
	for _, st := range items {
		fmt.Printf("%4d  %s  %-15s %s\n", st.Seq, st.Event.Timestamp, st.Event.Kind, renderPayload(st.Event))
	}
	fmt.Printf("page %d, %d message(s) total\n", page+1, total)
}

func (c *console) cmdHangup() {
	if c.current == nil {
		fmt.Println("no call to hang up")
		return
	}
	if err := c.tel.EndCall(c.current.Sid); err != nil {
		fmt.Println("error ending call:", err)
		return
	}
	fmt.Printf("hangup requested for %s\n", c.current.Sid)
}

// cmdPing publishes a test event so the operator can verify the relay
// end to end: it should come back via the subscription and show up in
// history a tick later.
func (c *console) cmdPing() {
	ev := wire.New(wire.KindTest, map[string]string{"source": "console"})
	if err := c.link.Publish(ev); err != nil {
		fmt.Println("publish failed:", err)
		return
	}
	fmt.Println("test event published")
}

func (c *console) stopPolling() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

func renderPayload(ev wire.Event) string {
	switch ev.Kind {
	case wire.KindStatusUpdate:
		return fmt.Sprintf("%s %s", ev.Get(wire.KeyCallSid), ev.Get(wire.KeyCallStatus))
	case wire.KindUserInput:
		if s := ev.Get(wire.KeySpeechResult); s != "" {
			return "user: " + s
		}
		if d := ev.Get(wire.KeyDigits); d != "" {
			return "digits: " + d
		}
		return "(no input)"
	case wire.KindAgentResponse:
		return "agent: " + ev.Get(wire.KeyReply)
	default:
		return fmt.Sprintf("%v", ev.Payload)
	}
}

func historyFilePath() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return filepath.Join(u.HomeDir, ".voicebridge_console_history")
}
