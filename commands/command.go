// Package commands holds the chat command definitions and the registry that
// owns them.
package commands

import (
	"errors"
	"fmt"
	"strings"
)

// Sigil marks a chat command trigger.
const Sigil = "!"

// Permission is who may trigger a command.
type Permission string

const (
	Everyone  Permission = "Everyone"
	Moderator Permission = "Moderator"
	Admin     Permission = "Admin"
)

func (p Permission) Valid() bool {
	switch p {
	case Everyone, Moderator, Admin:
		return true
	}
	return false
}

// Usage is where a command may be triggered from. SC commands only fire from
// the soundboard itself, never from chat.
type Usage string

const (
	UsageSC   Usage = "SC"
	UsageChat Usage = "Chat"
	UsageBoth Usage = "Both"
)

func (u Usage) Valid() bool {
	switch u {
	case UsageSC, UsageChat, UsageBoth:
		return true
	}
	return false
}

// ChatEnabled reports whether chat may trigger the command.
func (u Usage) ChatEnabled() bool { return u == UsageChat || u == UsageBoth }

// Command is one command definition. JSON keys match commands.json.
type Command struct {
	Command      string     `json:"Command"`
	Permission   Permission `json:"Permission"`
	Info         string     `json:"Info"`
	Group        string     `json:"Group"`
	Response     string     `json:"Response"`
	Cooldown     int        `json:"Cooldown"`     // minutes
	UserCooldown int        `json:"UserCooldown"` // minutes
	Cost         int        `json:"Cost"`
	Count        int        `json:"Count"`
	Usage        Usage      `json:"Usage"`
	Enabled      bool       `json:"Enabled"`
	SoundFile    string     `json:"SoundFile"`
	FKSoundFile  string     `json:"FKSoundFile"`
	Volume       int        `json:"Volume"`
}

// Key is the case-insensitive identity of the command.
func (c Command) Key() string { return Key(c.Command) }

// Key normalizes a trigger for lookup.
func Key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is returned when a named command does not exist.
var ErrNotFound = errors.New("command not found")

// ValidationError describes a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// Validate checks a single command in isolation.
func (c Command) Validate() error {
	name := strings.TrimSpace(c.Command)
	switch {
	case name == "":
		return invalid("Command", "empty")
	case !strings.HasPrefix(name, Sigil) || len(name) == len(Sigil):
		return invalid("Command", "must start with "+Sigil+" followed by a name")
	case strings.ContainsAny(name, " \t\r\n"):
		return invalid("Command", "must not contain whitespace")
	}
	if !c.Permission.Valid() {
		return invalid("Permission", fmt.Sprintf("unknown value %q", c.Permission))
	}
	if !c.Usage.Valid() {
		return invalid("Usage", fmt.Sprintf("unknown value %q", c.Usage))
	}
	for _, f := range []struct {
		name string
		v    int
	}{{"Cooldown", c.Cooldown}, {"UserCooldown", c.UserCooldown}, {"Cost", c.Cost}, {"Count", c.Count}} {
		if f.v < 0 {
			return invalid(f.name, "must not be negative")
		}
	}
	if c.Volume < 0 || c.Volume > 100 {
		return invalid("Volume", "must be within 0..100")
	}
	return nil
}
