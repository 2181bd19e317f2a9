package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/ids"
	"genaiportal.org/internal/portal"
	"genaiportal.org/internal/project"
)

func main() {
	base := os.Getenv("PORTAL_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dev := mustLogin(ctx, base, "developer@example.com", "dev123")
	admin := mustLogin(ctx, base, "admin@example.com", "admin123")

	before, err := dev.CountOwn(ctx)
	if err != nil {
		log.Fatalf("count own: %v", err)
	}

	title := "smoke " + ids.New()
	p, err := dev.CreateProject(ctx, project.Fields{
		Title:           title,
		Model:           "Claude 3.5 Sonnet",
		Registrant:      "Smoke",
		Department:      "Platform",
		ProjectManager:  "Smoke",
		Developers:      "Smoke",
		Description:     "End-to-end check",
		UsagePlan:       "Once",
		ExpectedEffects: "None",
		Duration:        "1 day",
	})
	if err != nil {
		log.Fatalf("create project: %v", err)
	}
	if p.Status != project.StatusPending {
		log.Fatalf("new project status = %s", p.Status)
	}

	if _, err := dev.Decide(ctx, p.ID, project.StatusApproved, "self approval"); err == nil {
		log.Fatalf("developer was allowed to decide %s", p.ID)
	} else if !errors.Is(err, auth.ErrUnauthorized) {
		log.Fatalf("developer decide: unexpected error %v", err)
	}

	found, err := admin.Search(ctx, project.Query{Keyword: title, Status: project.StatusPending})
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != p.ID {
		log.Fatalf("search for %q returned %d projects", title, len(found))
	}

	decided, err := admin.Decide(ctx, p.ID, project.StatusApproved, "smoke approval")
	if err != nil {
		log.Fatalf("decide: %v", err)
	}
	if decided.Status != project.StatusApproved || decided.StatusMessage != "smoke approval" {
		log.Fatalf("unexpected decision: %+v", decided)
	}

	after, err := dev.CountOwn(ctx)
	if err != nil {
		log.Fatalf("count own: %v", err)
	}
	if after != before+1 {
		log.Fatalf("own count went from %d to %d", before, after)
	}

	fmt.Printf("portal smoke test passed: project=%s\n", p.ID)
}

func mustLogin(ctx context.Context, base, email, password string) *portal.Client {
	c, err := portal.New(base)
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	if _, err := c.Login(ctx, email, password); err != nil {
		log.Fatalf("login %s: %v", email, err)
	}
	return c
}
