// chatctl drives the marketplace chat API from a terminal: sign in, browse
// conversations, send messages and follow the realtime stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"marketplace/pkg/chatclient"
)

type globalFlags struct {
	server  string
	token   string
	timeout time.Duration
}

type command struct {
	summary string
	run     func(ctx context.Context, env *runEnv, args []string) error
}

type runEnv struct {
	client *chatclient.Client
	out    io.Writer
}

var commandTable = map[string]command{
	"register":      {"register <email> <name> <password>: create an account and print its token", runRegister},
	"login":         {"login <email> <password>: print a bearer token", runLogin},
	"me":            {"me: show the signed-in user", runMe},
	"conversations": {"conversations: list conversations by recent activity", runConversations},
	"start":         {"start --listing|--service <id> [--with <user>]: open a conversation", runStart},
	"messages":      {"messages <conversation> [--page n] [--limit n]: print history", runMessages},
	"send":          {"send <conversation> <text...>: post a message", runSend},
	"read":          {"read <conversation>: mark incoming messages read", runRead},
	"unread":        {"unread [conversation]: print the unread count", runUnread},
	"presence":      {"presence <user>: show whether a user is online", runPresence},
	"watch":         {"watch: follow realtime events until interrupted", runWatch},
}

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string, out io.Writer) error {
	var g globalFlags
	flags := pflag.NewFlagSet("chatctl", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.StringVarP(&g.server, "server", "s", envOr("CHAT_SERVER", "http://localhost:8080"), "API base URL")
	flags.StringVarP(&g.token, "token", "t", os.Getenv("CHAT_TOKEN"), "bearer token (or CHAT_TOKEN)")
	flags.DurationVar(&g.timeout, "timeout", 15*time.Second, "per-request timeout")
	flags.Usage = func() { usage(flags) }
	if err := flags.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	rest := flags.Args()
	if len(rest) == 0 {
		usage(flags)
		return errors.New("command required")
	}
	cmd, ok := commandTable[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chatclient.New(g.server, chatclient.WithTimeout(g.timeout))
	client.SetToken(g.token)
	return cmd.run(ctx, &runEnv{client: client, out: out}, rest[1:])
}

func usage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: chatctl [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commandTable[name].summary)
	}
	fmt.Fprintln(os.Stderr, "\nflags:")
	flags.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func need(args []string, n int, shape string) error {
	if len(args) < n {
		return fmt.Errorf("usage: chatctl %s", shape)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRegister(ctx context.Context, env *runEnv, args []string) error {
	if err := need(args, 3, "register <email> <name> <password>"); err != nil {
		return err
	}
	res, err := env.client.Register(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out, res.Token)
	return nil
}

func runLogin(ctx context.Context, env *runEnv, args []string) error {
	if err := need(args, 2, "login <email> <password>"); err != nil {
		return err
	}
	res, err := env.client.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out, res.Token)
	return nil
}

func runMe(ctx context.Context, env *runEnv, _ []string) error {
	me, err := env.client.Me(ctx)
	if err != nil {
		return err
	}
	return printJSON(env.out, me)
}

func runConversations(ctx context.Context, env *runEnv, _ []string) error {
	convs, err := env.client.Conversations(ctx)
	if err != nil {
		return err
	}
	for _, c := range convs {
		anchor := "listing:" + c.ListingID
		if c.ServiceID != "" {
			anchor = "service:" + c.ServiceID
		}
		last := ""
		if c.LastMessage != nil {
			last = c.LastMessage.Content
		}
		fmt.Fprintf(env.out, "%s\t%s\t%s\tunread=%d\t%s\n", c.ID, anchor, strings.Join(c.Participants, ","), c.UnreadCount, last)
	}
	return nil
}

func runStart(ctx context.Context, env *runEnv, args []string) error {
	var params chatclient.StartParams
	flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
	flags.StringVar(&params.ListingID, "listing", "", "listing id")
	flags.StringVar(&params.ServiceID, "service", "", "service id")
	flags.StringVar(&params.OtherUserID, "with", "", "counterpart user id (defaults to the owner)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	conv, err := env.client.StartConversation(ctx, params)
	if err != nil {
		return err
	}
	return printJSON(env.out, conv)
}

func runMessages(ctx context.Context, env *runEnv, args []string) error {
	flags := pflag.NewFlagSet("messages", pflag.ContinueOnError)
	page := flags.Int("page", 1, "page number")
	limit := flags.Int("limit", 50, "page size")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := need(flags.Args(), 1, "messages <conversation> [--page n] [--limit n]"); err != nil {
		return err
	}
	msgs, pg, err := env.client.Messages(ctx, flags.Arg(0), *page, *limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		mark := " "
		if m.Read {
			mark = "✓"
		}
		fmt.Fprintf(env.out, "%s %s %s: %s\n", m.CreatedAt.Local().Format(time.DateTime), mark, m.SenderID, m.Content)
	}
	fmt.Fprintf(env.out, "page %d/%d, %d messages\n", pg.Page, pg.Pages, pg.Total)
	return nil
}

func runSend(ctx context.Context, env *runEnv, args []string) error {
	if err := need(args, 2, "send <conversation> <text...>"); err != nil {
		return err
	}
	msg, err := env.client.Send(ctx, args[0], strings.Join(args[1:], " "), uuid.NewString())
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out, msg.ID)
	return nil
}

func runRead(ctx context.Context, env *runEnv, args []string) error {
	if err := need(args, 1, "read <conversation>"); err != nil {
		return err
	}
	receipt, err := env.client.MarkRead(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "%d marked read\n", receipt.Updated)
	return nil
}

func runUnread(ctx context.Context, env *runEnv, args []string) error {
	conv := ""
	if len(args) > 0 {
		conv = args[0]
	}
	n, err := env.client.UnreadCount(ctx, conv)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out, n)
	return nil
}

func runPresence(ctx context.Context, env *runEnv, args []string) error {
	if err := need(args, 1, "presence <user>"); err != nil {
		return err
	}
	p, err := env.client.Presence(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(env.out, p)
}

// runWatch prints every socket event and keeps a local store so the unread
// total can be shown as it changes.
func runWatch(ctx context.Context, env *runEnv, _ []string) error {
	me, err := env.client.Me(ctx)
	if err != nil {
		return err
	}
	store := chatclient.NewStore(me.ID)
	convs, err := env.client.Conversations(ctx)
	if err != nil {
		return err
	}
	store.SetConversations(convs)

	url, err := chatclient.SocketURL(env.client.BaseURL())
	if err != nil {
		return err
	}
	sock, err := chatclient.DialSocket(ctx, url, env.client.Token())
	if err != nil {
		return err
	}
	defer sock.Close()
	fmt.Fprintf(env.out, "connected as %s, %d unread\n", me.Name, store.UnreadCount())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sock.Events():
			if !ok {
				return sock.Err()
			}
			if err := store.Apply(ev); err != nil {
				fmt.Fprintf(env.out, "! %v\n", err)
				continue
			}
			fmt.Fprintf(env.out, "%s %s (unread %d)\n", ev.Name, string(ev.Data), store.UnreadCount())
		}
	}
}
