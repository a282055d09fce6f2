package server

import (
	"fmt"
	"net/http"

	"github.com/onnwee/sound-tender/backup"
	"github.com/onnwee/sound-tender/commands"
)

// HandleCommandsList returns the command list in its current order.
func (h *Handlers) HandleCommandsList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "registry")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Registry.List())
}

// HandleCommandGet returns one command.
func (h *Handlers) HandleCommandGet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "registry")
		return
	}
	name := r.PathValue("name")
	c, ok := h.deps.Registry.Lookup(name)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", commands.ErrNotFound, name))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleCommandCreate appends a new command. Fields left out take the
// editor's defaults.
func (h *Handlers) HandleCommandCreate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "registry")
		return
	}
	c := commands.Command{
		Permission: commands.Everyone,
		Group:      commands.DefaultGroup,
		Usage:      commands.UsageBoth,
		Enabled:    true,
		Volume:     100,
	}
	if !decodeJSON(w, r, &c) {
		return
	}
	if err := h.deps.Registry.Add(c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleCommandUpdate replaces a command's fields. The usage count is owned
// by the dispatcher and kept as is.
func (h *Handlers) HandleCommandUpdate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "registry")
		return
	}
	var in commands.Command
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.deps.Registry.Update(r.PathValue("name"), func(c *commands.Command) {
		count := c.Count
		*c = in
		c.Count = count
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleCommandDelete removes a command and its cooldown state.
func (h *Handlers) HandleCommandDelete(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "registry")
		return
	}
	name := r.PathValue("name")
	if err := h.deps.Registry.Remove(name); err != nil {
		writeError(w, r, err)
		return
	}
	if h.deps.Cooldowns != nil {
		h.deps.Cooldowns.Clear(name)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCommandMove reorders a command: {"index": n}.
func (h *Handlers) HandleCommandMove(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "registry")
		return
	}
	var body struct {
		Index *int `json:"index"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Index == nil {
		writeError(w, r, &commands.ValidationError{Field: "index", Reason: "required"})
		return
	}
	if err := h.deps.Registry.Move(r.PathValue("name"), *body.Index); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Registry.List())
}

// HandleCooldownClear resets one command's cooldowns.
func (h *Handlers) HandleCooldownClear(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cooldowns == nil {
		unavailable(w, "cooldowns")
		return
	}
	h.deps.Cooldowns.Clear(r.PathValue("name"))
	w.WriteHeader(http.StatusNoContent)
}

// HandleCooldownClearAll resets every cooldown.
func (h *Handlers) HandleCooldownClearAll(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cooldowns == nil {
		unavailable(w, "cooldowns")
		return
	}
	h.deps.Cooldowns.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

// HandleSave is the editor's manual save: it writes both datasets and a snapshot.
func (h *Handlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	if h.deps.Saver == nil {
		unavailable(w, "saver")
		return
	}
	res, err := h.deps.Saver.Save(r.Context(), backup.ModeManual)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wrote": res.Wrote, "backup": res.Backup})
}
