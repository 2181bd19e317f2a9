// Command portalctl drives the portal API from a terminal.
//
//	portalctl login -email developer@example.com -password dev123
//	export PORTAL_TOKEN=...
//	portalctl submit -file project.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"genaiportal.org/internal/portal"
)

const defaultAPI = "http://localhost:8080"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

type env struct {
	ctx    context.Context
	out    io.Writer
	client *portal.Client
	token  string
	now    func() time.Time
}

type command struct {
	name    string
	usage   string
	session bool
	run     func(e *env, args []string) error
}

var commands = []command{
	{"login", "login -email E -password P", false, cmdLogin},
	{"whoami", "whoami", true, cmdWhoami},
	{"my", "my", true, cmdMy},
	{"all", "all", true, cmdAll},
	{"pending", "pending", true, cmdPending},
	{"search", "search [-q KEYWORD] [-status STATUS]", true, cmdSearch},
	{"show", "show -id ID", true, cmdShow},
	{"submit", "submit -file project.yaml", true, cmdSubmit},
	{"decide", "decide -id ID -outcome APPROVED|REJECTED -message TEXT", true, cmdDecide},
	{"drafts", "drafts", true, cmdDrafts},
	{"draft-save", "draft-save -file draft.yaml [-id ID]", true, cmdDraftSave},
	{"draft-delete", "draft-delete -id ID", true, cmdDraftDelete},
	{"draft-submit", "draft-submit -id ID [-file overrides.yaml]", true, cmdDraftSubmit},
	{"chat", "chat -m MESSAGE [-model NAME] [-max-tokens N]", true, cmdChat},
	{"models", "models", true, cmdModels},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	base := getenv("PORTAL_API_URL")
	if base == "" {
		base = defaultAPI
	}
	client, err := portal.New(base)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	e := &env{ctx: ctx, out: stdout, client: client, token: getenv("PORTAL_TOKEN"), now: time.Now}

	if cmd.session {
		if e.token == "" {
			fmt.Fprintln(stderr, "PORTAL_TOKEN is not set; run 'portalctl login' first")
			return 1
		}
		if _, err := client.Resume(ctx, e.token); err != nil {
			fmt.Fprintf(stderr, "session: %v\n", err)
			return 1
		}
	}

	if err := cmd.run(e, args[1:]); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd.name, err)
		if portal.Retryable(err) {
			fmt.Fprintln(stderr, "the server could not be reached or failed; retry later")
		}
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "usage: portalctl %s\n", cmd.usage)
			return 2
		}
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: portalctl <command> [flags]")
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
	fmt.Fprintln(w, "environment: PORTAL_API_URL (default "+defaultAPI+"), PORTAL_TOKEN")
}
