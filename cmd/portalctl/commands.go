package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"genaiportal.org/internal/playground"
	"genaiportal.org/internal/project"
)

var errUsage = errors.New("invalid arguments")

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	return nil
}

// readFields loads project fields from a YAML file.
func readFields(path string) (project.Fields, error) {
	f, err := os.Open(path)
	if err != nil {
		return project.Fields{}, err
	}
	defer f.Close()
	var fields project.Fields
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
		return project.Fields{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return fields, nil
}

func cmdLogin(e *env, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("email", *email); err != nil {
		return err
	}
	if err := required("password", *password); err != nil {
		return err
	}
	sess, err := e.client.Login(e.ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "logged in as %s (%s), token expires %s\n",
		sess.Name, sess.Role, humanize.RelTime(sess.ExpiresAt, e.now(), "ago", "from now"))
	fmt.Fprintf(e.out, "export PORTAL_TOKEN=%s\n", sess.Token)
	return nil
}

func cmdWhoami(e *env, args []string) error {
	if err := parse(newFlags("whoami"), args); err != nil {
		return err
	}
	id, err := e.client.Verify(e.ctx)
	if err != nil {
		return err
	}
	caps := make([]string, 0, len(id.Capabilities))
	for _, c := range id.Capabilities {
		caps = append(caps, string(c))
	}
	fmt.Fprintf(e.out, "%s <%s>\nrole: %s\ncapabilities: %s\n", id.Name, id.Email, id.Role, strings.Join(caps, ", "))
	return nil
}

func cmdMy(e *env, args []string) error {
	if err := parse(newFlags("my"), args); err != nil {
		return err
	}
	list, err := e.client.ListOwn(e.ctx)
	if err != nil {
		return err
	}
	return e.printProjects(list)
}

func cmdAll(e *env, args []string) error {
	if err := parse(newFlags("all"), args); err != nil {
		return err
	}
	list, err := e.client.ListAll(e.ctx)
	if err != nil {
		return err
	}
	return e.printProjects(list)
}

func cmdPending(e *env, args []string) error {
	if err := parse(newFlags("pending"), args); err != nil {
		return err
	}
	list, err := e.client.ListPending(e.ctx)
	if err != nil {
		return err
	}
	return e.printProjects(list)
}

func cmdSearch(e *env, args []string) error {
	fs := newFlags("search")
	q := fs.String("q", "", "keyword matched against every field")
	status := fs.String("status", "", "PENDING, APPROVED or REJECTED")
	if err := parse(fs, args); err != nil {
		return err
	}
	st, err := project.ParseStatus(*status)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	list, err := e.client.Search(e.ctx, project.Query{Keyword: *q, Status: st})
	if err != nil {
		return err
	}
	return e.printProjects(list)
}

func cmdShow(e *env, args []string) error {
	fs := newFlags("show")
	id := fs.String("id", "", "project id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("id", *id); err != nil {
		return err
	}
	p, err := e.client.GetProject(e.ctx, *id)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(p.Fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "id: %s\nstatus: %s\nsubmitted: %s\n", p.ID, p.Status, humanize.RelTime(p.SubmittedAt, e.now(), "ago", "from now"))
	if p.StatusMessage != "" {
		fmt.Fprintf(e.out, "statusMessage: %s\n", p.StatusMessage)
	}
	_, err = e.out.Write(out)
	return err
}

func cmdSubmit(e *env, args []string) error {
	fs := newFlags("submit")
	file := fs.String("file", "", "YAML file with the project fields")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("file", *file); err != nil {
		return err
	}
	fields, err := readFields(*file)
	if err != nil {
		return err
	}
	p, err := e.client.CreateProject(e.ctx, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "submitted %s (%s)\n", p.ID, p.Status)
	return nil
}

func cmdDecide(e *env, args []string) error {
	fs := newFlags("decide")
	id := fs.String("id", "", "project id")
	outcome := fs.String("outcome", "", "APPROVED or REJECTED")
	message := fs.String("message", "", "reason shown to the owner")
	if err := parse(fs, args); err != nil {
		return err
	}
	for _, f := range [][2]string{{"id", *id}, {"outcome", *outcome}, {"message", *message}} {
		if err := required(f[0], f[1]); err != nil {
			return err
		}
	}
	st, err := project.ParseStatus(*outcome)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	p, err := e.client.Decide(e.ctx, *id, st, *message)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s is now %s\n", p.ID, p.Status)
	return nil
}

func cmdDrafts(e *env, args []string) error {
	if err := parse(newFlags("drafts"), args); err != nil {
		return err
	}
	list, err := e.client.ListDrafts(e.ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, orDash(d.Title), humanize.RelTime(d.UpdatedAt, e.now(), "ago", "from now"))
	}
	return tw.Flush()
}

func cmdDraftSave(e *env, args []string) error {
	fs := newFlags("draft-save")
	file := fs.String("file", "", "YAML file with any subset of the project fields")
	id := fs.String("id", "", "existing draft id to overwrite")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("file", *file); err != nil {
		return err
	}
	fields, err := readFields(*file)
	if err != nil {
		return err
	}
	d, err := e.client.SaveDraft(e.ctx, project.DraftInput{ID: *id, Fields: fields})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "saved draft %s\n", d.ID)
	return nil
}

func cmdDraftDelete(e *env, args []string) error {
	fs := newFlags("draft-delete")
	id := fs.String("id", "", "draft id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("id", *id); err != nil {
		return err
	}
	if err := e.client.DeleteDraft(e.ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "deleted draft %s\n", *id)
	return nil
}

func cmdDraftSubmit(e *env, args []string) error {
	fs := newFlags("draft-submit")
	id := fs.String("id", "", "draft id")
	file := fs.String("file", "", "optional YAML file whose fields override the draft")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("id", *id); err != nil {
		return err
	}
	var in project.DraftInput
	if *file != "" {
		fields, err := readFields(*file)
		if err != nil {
			return err
		}
		in.Fields = fields
	}
	p, err := e.client.PromoteDraft(e.ctx, *id, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "submitted %s (%s) from draft %s\n", p.ID, p.Status, *id)
	return nil
}

func cmdChat(e *env, args []string) error {
	fs := newFlags("chat")
	msg := fs.String("m", "", "message")
	model := fs.String("model", "", "playground model (default: server default)")
	maxTokens := fs.Int("max-tokens", 0, "reply length cap")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("m", *msg); err != nil {
		return err
	}
	res, err := e.client.Chat(e.ctx, playground.Request{Model: *model, Message: *msg, MaxTokens: *maxTokens})
	if err != nil {
		return err
	}
	if n := len(res.ConversationHistory); n > 0 {
		fmt.Fprintf(e.out, "[%s] %s\n", res.Model, res.ConversationHistory[n-1].Content)
	}
	return nil
}

func cmdModels(e *env, args []string) error {
	if err := parse(newFlags("models"), args); err != nil {
		return err
	}
	models, err := e.client.Models(e.ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Fprintln(e.out, m)
	}
	return nil
}

func (e *env) printProjects(list []project.Project) error {
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTITLE\tREGISTRANT\tSUBMITTED")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Status, p.Title, p.Registrant,
			humanize.RelTime(p.SubmittedAt, e.now(), "ago", "from now"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s\n", countLabel(len(list)))
	return nil
}

func countLabel(n int) string {
	return humanize.Comma(int64(n)) + " " + plural(n, "project", "projects")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
