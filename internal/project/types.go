package project

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a submitted project.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus accepts status names case-insensitively. An empty input yields an empty
// status and no error so callers can treat it as "no filter".
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case "", StatusPending, StatusApproved, StatusRejected:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Fields are the descriptive fields fixed when a project is submitted. Drafts carry the
// same fields with any subset left empty.
type Fields struct {
	Title           string `json:"title" yaml:"title"`
	Model           string `json:"model" yaml:"model"`
	Registrant      string `json:"registrant" yaml:"registrant"`
	Department      string `json:"department" yaml:"department"`
	ProjectManager  string `json:"projectManager" yaml:"projectManager"`
	Developers      string `json:"developers" yaml:"developers"`
	Description     string `json:"description" yaml:"description"`
	UsagePlan       string `json:"usagePlan" yaml:"usagePlan"`
	ExpectedEffects string `json:"expectedEffects" yaml:"expectedEffects"`
	Duration        string `json:"duration" yaml:"duration"`
}

type namedField struct {
	name  string
	value *string
}

func (f *Fields) named() []namedField {
	return []namedField{
		{"title", &f.Title},
		{"model", &f.Model},
		{"registrant", &f.Registrant},
		{"department", &f.Department},
		{"projectManager", &f.ProjectManager},
		{"developers", &f.Developers},
		{"description", &f.Description},
		{"usagePlan", &f.UsagePlan},
		{"expectedEffects", &f.ExpectedEffects},
		{"duration", &f.Duration},
	}
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (f Fields) Trimmed() Fields {
	for _, nf := range f.named() {
		*nf.value = strings.TrimSpace(*nf.value)
	}
	return f
}

// Validate requires every field to be non-empty after trimming.
func (f Fields) Validate() error {
	var missing []string
	for _, nf := range f.named() {
		if strings.TrimSpace(*nf.value) == "" {
			missing = append(missing, nf.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: required fields missing: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Empty reports whether no field is set.
func (f Fields) Empty() bool {
	for _, nf := range f.named() {
		if strings.TrimSpace(*nf.value) != "" {
			return false
		}
	}
	return true
}

// Overlay returns base with every non-empty field of f written over it.
func (f Fields) Overlay(base Fields) Fields {
	src := f.named()
	dst := base.named()
	for i := range src {
		if v := strings.TrimSpace(*src[i].value); v != "" {
			*dst[i].value = v
		}
	}
	return base
}

// Contains reports whether any field contains keyword, ignoring case.
func (f Fields) Contains(keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return true
	}
	for _, nf := range f.named() {
		if strings.Contains(strings.ToLower(*nf.value), keyword) {
			return true
		}
	}
	return false
}

// Project is a submitted request with an immutable creation record and a lifecycle status.
type Project struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Fields
	Status        Status     `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	SubmittedAt   time.Time  `json:"submittedAt"`
	DecidedAt     *time.Time `json:"decidedAt,omitempty"`
}

// Validate checks the lifecycle invariant: a message is present exactly when the
// project has left PENDING.
func (p Project) Validate() error {
	switch p.Status {
	case StatusPending:
		if p.StatusMessage != "" {
			return fmt.Errorf("project %s: pending with status message", p.ID)
		}
	case StatusApproved, StatusRejected:
		if p.StatusMessage == "" {
			return fmt.Errorf("project %s: %s without status message", p.ID, p.Status)
		}
	default:
		return fmt.Errorf("project %s: unknown status %q", p.ID, p.Status)
	}
	return nil
}

// Draft is an unsubmitted, partially-filled request owned by one user. It never carries
// a lifecycle status.
type Draft struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Fields
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DraftInput is a draft save or promotion as received from a caller. Status is decoded
// only so that a supplied value can be refused.
type DraftInput struct {
	ID string `json:"id,omitempty"`
	Fields
	Status Status `json:"status,omitempty"`
}

// Query holds the optional search filters. Empty fields impose no restriction.
type Query struct {
	Keyword string
	Status  Status
}

// Filter selects projects in a Store. Empty fields impose no restriction.
type Filter struct {
	OwnerID string
	Status  Status
	Keyword string
}
