package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/onnwee/sound-tender/store"
)

// LegacyExt is the extension used for exported command lists.
const LegacyExt = ".abcomg"

// Default group for imported commands without one.
const DefaultGroup = "GENERAL"

// looseInt accepts numbers, floats and numeric strings as written by older
// editors.
type looseInt struct {
	v   int
	set bool
}

func (l *looseInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	var f float64
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		f = parsed
	} else if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	l.v, l.set = int(math.Round(f)), true
	return nil
}

type legacyCommand struct {
	Command      string   `json:"Command"`
	Permission   *string  `json:"Permission"`
	Info         string   `json:"Info"`
	Group        *string  `json:"Group"`
	Response     string   `json:"Response"`
	Cooldown     looseInt `json:"Cooldown"`
	UserCooldown looseInt `json:"UserCooldown"`
	Cost         looseInt `json:"Cost"`
	Count        looseInt `json:"Count"`
	Usage        *string  `json:"Usage"`
	Enabled      *bool    `json:"Enabled"`
	SoundFile    string   `json:"SoundFile"`
	FKSoundFile  string   `json:"FKSoundFile"`
	Volume       looseInt `json:"Volume"`
}

func (l legacyCommand) command() Command {
	c := Command{
		Command:      strings.TrimSpace(l.Command),
		Permission:   Everyone,
		Info:         l.Info,
		Group:        DefaultGroup,
		Response:     l.Response,
		Cooldown:     l.Cooldown.v,
		UserCooldown: l.UserCooldown.v,
		Cost:         l.Cost.v,
		Count:        l.Count.v,
		Usage:        UsageSC,
		Enabled:      true,
		SoundFile:    l.SoundFile,
		FKSoundFile:  l.FKSoundFile,
		Volume:       100,
	}
	if l.Permission != nil && Permission(*l.Permission).Valid() {
		c.Permission = Permission(*l.Permission)
	}
	if l.Group != nil && *l.Group != "" {
		c.Group = *l.Group
	}
	if l.Usage != nil && Usage(*l.Usage).Valid() {
		c.Usage = Usage(*l.Usage)
	}
	if l.Enabled != nil {
		c.Enabled = *l.Enabled
	}
	if l.Volume.set {
		c.Volume = min(max(l.Volume.v, 0), 100)
	}
	return c
}

// Decode parses a command list, filling missing fields with defaults.
// Entries that still fail validation, or repeat an earlier name, are skipped
// and logged.
func Decode(data []byte) ([]Command, error) {
	var raw []legacyCommand
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	out := make([]Command, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, l := range raw {
		c := l.command()
		if err := c.Validate(); err != nil {
			slog.Warn("skipping invalid command", slog.String("component", "commands"), slog.Int("index", i), slog.String("command", c.Command), slog.Any("err", err))
			continue
		}
		if seen[c.Key()] {
			slog.Warn("skipping duplicate command", slog.String("component", "commands"), slog.Int("index", i), slog.String("command", c.Command))
			continue
		}
		seen[c.Key()] = true
		out = append(out, c)
	}
	return out, nil
}

// ImportLegacy reads an externally produced command list.
func ImportLegacy(r io.Reader) ([]Command, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// ExportLegacy writes cmds in the commands.json schema.
func ExportLegacy(w io.Writer, cmds []Command) error {
	if cmds == nil {
		cmds = []Command{}
	}
	data, err := store.Marshal(cmds)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
