package domain

import (
	"strings"
	"time"
)

// Control is a named question evaluated against every document.
type Control struct {
	// ID is the unique identifier for the control.
	ID string

	// Title is the short human-readable name.
	Title string

	// Prompt is the question put to the generation service.
	Prompt string

	// Description is free-form context passed alongside the prompt.
	Description string

	// Active controls are shown in the grid and dispatched.
	Active bool

	// Version increments on prompt or description edits. Starts at 1.
	Version int

	// CreatedAt is when the control was defined.
	CreatedAt time.Time

	// UpdatedAt is when the control was last edited.
	UpdatedAt time.Time
}

// ControlInput carries the fields for a new control.
type ControlInput struct {
	Title       string
	Prompt      string
	Description string
}

// Normalise trims the fields and terminates the prompt with a question
// mark unless it already ends in sentence punctuation. It rejects empty
// titles and prompts and a prompt identical to the title.
func (in ControlInput) Normalise() (ControlInput, error) {
	out := ControlInput{
		Title:       strings.TrimSpace(in.Title),
		Prompt:      NormalisePrompt(in.Prompt),
		Description: strings.TrimSpace(in.Description),
	}
	if out.Title == "" || out.Prompt == "" {
		return ControlInput{}, ErrInvalidInput
	}
	if strings.EqualFold(out.Title, out.Prompt) {
		return ControlInput{}, ErrInvalidInput
	}
	return out, nil
}

// NormalisePrompt trims a prompt and appends "?" unless it ends with ?, . or !.
func NormalisePrompt(prompt string) string {
	p := strings.TrimSpace(prompt)
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, "?") && !strings.HasSuffix(p, ".") && !strings.HasSuffix(p, "!") {
		p += "?"
	}
	return p
}

// ControlPatch carries optional edits to a control. Nil fields are unchanged.
type ControlPatch struct {
	Title       *string
	Prompt      *string
	Description *string
	Active      *bool
}

// ControlChange summarises what an applied patch changed.
type ControlChange struct {
	// InputsChanged is set when prompt or description changed (version bump).
	InputsChanged bool

	// Activated is set when the control went from inactive to active.
	Activated bool

	// Deactivated is set when the control went from active to inactive.
	Deactivated bool
}

// Apply edits c in place and reports the kind of change. A prompt or
// description change bumps the version.
func (c *Control) Apply(p ControlPatch, now time.Time) (ControlChange, error) {
	var change ControlChange

	title := c.Title
	if p.Title != nil {
		title = strings.TrimSpace(*p.Title)
		if title == "" {
			return change, ErrInvalidInput
		}
	}

	prompt := c.Prompt
	if p.Prompt != nil {
		prompt = NormalisePrompt(*p.Prompt)
		if prompt == "" {
			return change, ErrInvalidInput
		}
	}
	if strings.EqualFold(title, prompt) {
		return change, ErrInvalidInput
	}

	description := c.Description
	if p.Description != nil {
		description = strings.TrimSpace(*p.Description)
	}

	change.InputsChanged = prompt != c.Prompt || description != c.Description
	if p.Active != nil && *p.Active != c.Active {
		change.Activated = *p.Active
		change.Deactivated = !*p.Active
		c.Active = *p.Active
	}

	c.Title = title
	c.Prompt = prompt
	c.Description = description
	if change.InputsChanged {
		c.Version++
	}
	c.UpdatedAt = now
	return change, nil
}

// Matches reports whether the query appears in the title, description or prompt.
func (c *Control) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Title), q) ||
		strings.Contains(strings.ToLower(c.Description), q) ||
		strings.Contains(strings.ToLower(c.Prompt), q)
}
