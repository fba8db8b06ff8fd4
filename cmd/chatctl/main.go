package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatline/internal/api"
	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/session"
	"github.com/matheus3301/chatline/internal/store"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides $CHATLINE_SESSION and config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Commands that do not need a running daemon.
	switch args[0] {
	case "sessions":
		if len(args) >= 2 && args[1] == "list" {
			cmdSessionsList(*jsonFlag)
			return
		}
		fail("usage: chatctl sessions list")
	case "config":
		if len(args) >= 2 && args[1] == "init" {
			cmdConfigInit(args[2:])
			return
		}
		fail("usage: chatctl config init [--server <url>]")
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail("error: %v", err)
	}

	socketPath := session.SocketPath(sessionName)
	c, err := api.New(socketPath)
	if err != nil {
		fail("error: cannot connect to daemon for session %q: %v", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	// Streaming commands run until interrupted.
	streamCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "send":
		cmdSend(ctx, c, out, args[1:])
	case "history":
		cmdHistory(ctx, c, out, args[1:])
	case "search":
		cmdSearch(ctx, c, out, args[1:])
	case "show":
		cmdShow(ctx, c, out, args[1:])
	case "resend":
		cmdResend(ctx, c, out, args[1:])
	case "clear-pending":
		n, err := c.DeletePending(ctx)
		check(err)
		out.result(map[string]any{"deleted": n}, fmt.Sprintf("Deleted %d pending message(s).", n))
	case "profile":
		cmdProfile(ctx, c, out, args[1:])
	case "watch":
		cmdWatch(streamCtx, c, out, args[1:])
	case "reply":
		cmdReply(streamCtx, c, out, args[1:])
	case "sync":
		if len(args) < 2 {
			fail("usage: chatctl sync <start|stop|watch>")
		}
		cmdSync(ctx, streamCtx, c, out, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                         Show session status")
	fmt.Fprintln(os.Stderr, "  send [--reply id] [--wait] text  Send a message or /command")
	fmt.Fprintln(os.Stderr, "  history [--limit n]            Print the message history")
	fmt.Fprintln(os.Stderr, "  search [--limit n] query       Search message text")
	fmt.Fprintln(os.Stderr, "  show <local_id>                Print one message")
	fmt.Fprintln(os.Stderr, "  resend <local_id>              Retry a failed message")
	fmt.Fprintln(os.Stderr, "  clear-pending                  Delete unconfirmed messages")
	fmt.Fprintln(os.Stderr, "  profile [--name n] [--token t] [--refresh r] [--logout]")
	fmt.Fprintln(os.Stderr, "                                 Show or change the profile")
	fmt.Fprintln(os.Stderr, "  watch [--limit n]              Follow the history")
	fmt.Fprintln(os.Stderr, "  reply <server_id>              Follow a reply target")
	fmt.Fprintln(os.Stderr, "  sync start|stop|watch          Control the poll loop")
	fmt.Fprintln(os.Stderr, "  sessions list                  List known sessions")
	fmt.Fprintln(os.Stderr, "  config init [--server url]     Write a default config file")
}

func cmdStatus(ctx context.Context, c *api.Client, out printer) {
	st, err := c.GetStatus(ctx)
	check(err)
	if out.json {
		out.encode(st)
		return
	}
	fmt.Printf("Session:  %s\n", st.Session)
	fmt.Printf("Server:   %s\n", st.ServerURL)
	fmt.Printf("State:    %s\n", st.State)
	if st.LastError != "" {
		fmt.Printf("Error:    %s\n", st.LastError)
	}
	fmt.Printf("Syncing:  %v\n", st.Syncing)
	fmt.Printf("Uptime:   %s\n", st.Uptime.Round(time.Second))
	fmt.Printf("Messages: %d (%d pending)\n", st.MessageCount, st.PendingCount)
	name := st.Profile.DisplayName
	if name == "" {
		name = "(anonymous)"
	}
	fmt.Printf("Name:     %s\n", name)
	switch {
	case !st.Profile.HasToken:
		fmt.Println("Token:    none")
	case st.Profile.TokenExpired:
		fmt.Printf("Token:    %s (expired)\n", st.Profile.TokenSubject)
	default:
		fmt.Printf("Token:    %s\n", st.Profile.TokenSubject)
	}
}

func cmdSend(ctx context.Context, c *api.Client, out printer, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	reply := fs.Int64("reply", 0, "server id of the message being replied to")
	wait := fs.Bool("wait", false, "wait for delivery")
	_ = fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	m, err := c.Send(ctx, text, *reply, *wait)
	check(err)
	if m == nil {
		out.result(map[string]any{"accepted": true}, "Command accepted.")
		return
	}
	out.message(m)
}

func cmdHistory(ctx context.Context, c *api.Client, out printer, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 50, "number of messages (0 = all)")
	_ = fs.Parse(args)

	msgs, err := c.ListMessages(ctx, *limit)
	check(err)
	out.messages(msgs)
}

func cmdSearch(ctx context.Context, c *api.Client, out printer, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum results")
	_ = fs.Parse(args)

	msgs, err := c.SearchMessages(ctx, strings.Join(fs.Args(), " "), *limit)
	check(err)
	out.messages(msgs)
}

func cmdShow(ctx context.Context, c *api.Client, out printer, args []string) {
	m, err := c.GetMessage(ctx, idArg(args, "show <local_id>"))
	check(err)
	out.message(m)
}

func cmdResend(ctx context.Context, c *api.Client, out printer, args []string) {
	m, err := c.Resend(ctx, idArg(args, "resend <local_id>"))
	check(err)
	out.message(m)
}

func cmdProfile(ctx context.Context, c *api.Client, out printer, args []string) {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "display name (empty string for anonymous)")
	token := fs.String("token", "", "access token")
	refresh := fs.String("refresh", "", "refresh token")
	logout := fs.Bool("logout", false, "remove stored tokens")
	_ = fs.Parse(args)

	var u api.ProfileUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			u.DisplayName = name
		case "token":
			u.AccessToken = token
			u.RefreshToken = refresh
		}
	})
	u.ClearTokens = *logout

	p, err := c.SetProfile(ctx, u)
	check(err)
	if out.json {
		out.encode(p)
		return
	}
	display := p.DisplayName
	if display == "" {
		display = "(anonymous)"
	}
	fmt.Printf("Name:  %s\n", display)
	if p.HasToken {
		fmt.Printf("Token: %s (expired: %v)\n", p.TokenSubject, p.TokenExpired)
	} else {
		fmt.Println("Token: none")
	}
}

func cmdWatch(ctx context.Context, c *api.Client, out printer, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	limit := fs.Int("limit", 20, "messages shown per snapshot")
	_ = fs.Parse(args)

	seen := map[int64]store.Status{}
	err := c.WatchHistory(ctx, *limit, func(msgs []store.Message) error {
		for i := range msgs {
			m := &msgs[i]
			if st, ok := seen[m.LocalID]; ok && st == m.Status {
				continue
			}
			seen[m.LocalID] = m.Status
			out.message(m)
		}
		return nil
	})
	check(err)
}

func cmdReply(ctx context.Context, c *api.Client, out printer, args []string) {
	id := idArg(args, "reply <server_id>")
	err := c.WatchReply(ctx, id, func(evt api.ReplyEvent) error {
		if evt.Message == nil {
			out.result(map[string]any{"server_id": evt.ServerID, "found": false},
				fmt.Sprintf("#%d not synced yet", evt.ServerID))
			return nil
		}
		out.message(evt.Message)
		return nil
	})
	check(err)
}

func cmdSync(ctx, streamCtx context.Context, c *api.Client, out printer, subcmd string) {
	switch subcmd {
	case "start":
		msg, err := c.StartSync(ctx)
		check(err)
		out.result(map[string]any{"success": true, "message": msg}, msg)
	case "stop":
		msg, err := c.StopSync(ctx)
		check(err)
		out.result(map[string]any{"success": true, "message": msg}, msg)
	case "watch":
		err := c.WatchStatus(streamCtx, func(evt api.StatusEvent) error {
			if out.json {
				out.encode(evt)
				return nil
			}
			line := fmt.Sprintf("%s %-20s", evt.OccurredAt.Format(time.TimeOnly), evt.Kind)
			if evt.State != "" {
				line += " state=" + evt.State
			}
			if evt.Merged > 0 {
				line += fmt.Sprintf(" merged=%d", evt.Merged)
			}
			if evt.LastError != "" {
				line += " error=" + strconv.Quote(evt.LastError)
			}
			fmt.Println(line)
			return nil
		})
		check(err)
	default:
		fail("unknown sync subcommand: %s", subcmd)
	}
}

func cmdSessionsList(jsonOut bool) {
	sessions, err := session.List()
	check(err)
	if jsonOut {
		printer{json: true}.encode(sessions)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range sessions {
		running := "stopped"
		if s.Running {
			running = fmt.Sprintf("running, pid %d", s.PID)
		}
		fmt.Printf("%-20s %s (%s)\n", s.Name, session.Dir(s.Name), running)
	}
}

func cmdConfigInit(args []string) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	server := fs.String("server", "", "server URL")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	path := session.ConfigPath()
	if _, err := os.Stat(path); err == nil && !*force {
		fail("error: %s already exists (use --force to overwrite)", path)
	}
	cfg := config.Default()
	cfg.ServerURL = *server
	check(cfg.Validate())
	check(config.Save(path, cfg))
	fmt.Printf("Wrote %s\n", path)
}

func idArg(args []string, usage string) int64 {
	if len(args) != 1 {
		fail("usage: chatctl %s", usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		fail("error: invalid id %q", args[0])
	}
	return id
}

type printer struct {
	json bool
}

func (p printer) encode(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func (p printer) result(v any, text string) {
	if p.json {
		p.encode(v)
		return
	}
	fmt.Println(text)
}

func (p printer) messages(msgs []store.Message) {
	if p.json {
		p.encode(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for i := range msgs {
		p.message(&msgs[i])
	}
}

func (p printer) message(m *store.Message) {
	if p.json {
		p.encode(m)
		return
	}
	fmt.Println(formatMessage(m))
}

func formatMessage(m *store.Message) string {
	ts := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
	author := m.Author
	if m.Anonymous() {
		author = "anonymous"
	}
	if m.IsCommand {
		return fmt.Sprintf("[%d] %s %s> %s\n    %s", m.LocalID, ts, author, m.Body, strings.ReplaceAll(m.Output, "\n", "\n    "))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s %s: %s", m.LocalID, ts, author, m.Body)
	if m.ReplyTo != 0 {
		fmt.Fprintf(&b, " (reply to #%d)", m.ReplyTo)
	}
	if m.ServerID != 0 {
		fmt.Fprintf(&b, " #%d", m.ServerID)
	}
	if m.Status != store.Delivered {
		fmt.Fprintf(&b, " [%s]", strings.ToLower(string(m.Status)))
	}
	return b.String()
}

func check(err error) {
	if err != nil {
		fail("error: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
