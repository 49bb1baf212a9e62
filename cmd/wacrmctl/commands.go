package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/wacrm/internal/backend"
	"github.com/matheus3301/wacrm/internal/config"
	"github.com/matheus3301/wacrm/internal/console"
	"github.com/matheus3301/wacrm/internal/journal"
	"github.com/matheus3301/wacrm/internal/profile"
)

var statusCommand = &cli.Command{
	Name:   "status",
	Usage:  "Show whether the console is running and its push channel is live",
	Action: cmdStatus,
}

var failedCommand = &cli.Command{
	Name:  "failed",
	Usage: "List sends that failed and were never retried",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum entries to show"},
	},
	Action: cmdFailed,
}

var chatsCommand = &cli.Command{
	Name:   "chats",
	Usage:  "Fetch the conversation list from the CRM backend",
	Action: cmdChats,
}

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "Manage the config file",
	Subcommands: []*cli.Command{
		{
			Name:   "init",
			Usage:  "Write a default config file if none exists",
			Action: cmdConfigInit,
		},
	},
}

type statusReport struct {
	Profile string `json:"profile"`
	Running bool   `json:"running"`
	Push    string `json:"push,omitempty"`
}

func cmdStatus(ctx *cli.Context) error {
	name, err := getProfile(ctx)
	if err != nil {
		return err
	}
	report := statusReport{Profile: name}

	conn, err := grpc.NewClient(
		"unix://"+profile.SocketPath(name),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	rpcCtx, cancel := context.WithTimeout(ctx.Context, 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(rpcCtx, &healthpb.HealthCheckRequest{Service: console.PushService})
	if err == nil {
		report.Running = true
		report.Push = "offline"
		if resp.Status == healthpb.HealthCheckResponse_SERVING {
			report.Push = "live"
		}
	}

	if ctx.Bool("json") {
		return outputJSON(report)
	}
	if !report.Running {
		fmt.Printf("Profile: %s\nConsole: not running\n", name)
		return nil
	}
	fmt.Printf("Profile: %s\nConsole: running\nPush:    %s\n", name, report.Push)
	return nil
}

func cmdFailed(ctx *cli.Context) error {
	name, err := getProfile(ctx)
	if err != nil {
		return err
	}
	path := profile.JournalPath(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no journal for profile %q: %w", name, err)
	}
	db, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	entries, err := db.ListFailed(ctx.Int("limit"))
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No failed sends.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tCONVERSATION\tERROR\tMESSAGE")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format("01/02 15:04"), e.ConversationID, e.ErrorMessage, truncate(e.Body, 40))
	}
	return w.Flush()
}

func cmdChats(ctx *cli.Context) error {
	s := getSettings(ctx)
	c, err := backend.New(s.APIBaseURL, s.RequestTimeout, backend.Operator{ID: s.Operator.ID, Name: s.Operator.Name, Email: s.Operator.Email}, nil)
	if err != nil {
		return err
	}
	chats, err := c.ListChats(ctx.Context)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(chats)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHONE\tNAME\tTAG\tUNREAD\tLAST MESSAGE")
	for _, ch := range chats {
		conv := ch.Conversation()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", conv.Identity, conv.DisplayName, conv.StatusTag, conv.ServerUnread, truncate(conv.LastMessagePreview, 40))
	}
	return w.Flush()
}

func cmdConfigInit(ctx *cli.Context) error {
	path := ctx.String("config")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
