package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/sound-tender/audio"
	"github.com/onnwee/sound-tender/backup"
	"github.com/onnwee/sound-tender/chat"
)

// HandleBackupsList lists snapshots newest first. ?kind=commands|users filters.
func (h *Handlers) HandleBackupsList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Rotator == nil {
		unavailable(w, "backups")
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != backup.KindCommands && kind != backup.KindUsers {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be commands or users"})
		return
	}
	snaps, err := h.deps.Rotator.List(kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []backup.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// HandleBackupPreview decodes a commands snapshot without applying it.
func (h *Handlers) HandleBackupPreview(w http.ResponseWriter, r *http.Request) {
	if h.deps.Saver == nil {
		unavailable(w, "backups")
		return
	}
	cmds, err := h.deps.Saver.Preview(r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

// HandleBackupRestore replaces the live command list with a snapshot.
func (h *Handlers) HandleBackupRestore(w http.ResponseWriter, r *http.Request) {
	if h.deps.Saver == nil {
		unavailable(w, "backups")
		return
	}
	cmds, err := h.deps.Saver.Restore(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.deps.Cooldowns != nil {
		h.deps.Cooldowns.ClearAll()
	}
	writeJSON(w, http.StatusOK, cmds)
}

type moderatorsView struct {
	chat.ModeratorList
	Effective []string `json:"effective"`
}

func (h *Handlers) HandleModeratorsGet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Moderators == nil {
		unavailable(w, "moderators")
		return
	}
	writeJSON(w, http.StatusOK, moderatorsView{ModeratorList: h.deps.Moderators.List(), Effective: h.deps.Moderators.Effective()})
}

// HandleModeratorsPut replaces the manual and excluded lists.
func (h *Handlers) HandleModeratorsPut(w http.ResponseWriter, r *http.Request) {
	if h.deps.Moderators == nil {
		unavailable(w, "moderators")
		return
	}
	var in chat.ModeratorList
	if !decodeJSON(w, r, &in) {
		return
	}
	l, err := h.deps.Moderators.SetList(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moderatorsView{ModeratorList: l, Effective: h.deps.Moderators.Effective()})
}

// HandleSoundPreview toggles playback of a sound file, the editor's test
// button: {"sound_file": ..., "volume": 0..100}.
func (h *Handlers) HandleSoundPreview(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sink == nil {
		unavailable(w, "audio")
		return
	}
	body := struct {
		SoundFile string `json:"sound_file"`
		Volume    int    `json:"volume"`
	}{Volume: 100}
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.SoundFile) == "" && !h.deps.Sink.Busy() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sound_file required"})
		return
	}
	master := 1.0
	if h.deps.MasterVolume != nil {
		master = h.deps.MasterVolume()
	}
	playing, err := h.deps.Sink.Toggle(body.SoundFile, audio.VolumeFor(body.Volume, master))
	if err != nil && !errors.Is(err, audio.ErrBusy) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"playing": playing})
}

var injectable = map[chat.Kind]bool{
	chat.KindRaid:        true,
	chat.KindFollow:      true,
	chat.KindSub:         true,
	chat.KindMassSubGift: true,
	chat.KindHost:        true,
}

// HandleEventInject delivers a raid, follow, sub, gift or host event into the
// dispatch stream: {"kind": ..., "user": ..., "count": n}.
func (h *Handlers) HandleEventInject(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		unavailable(w, "chat")
		return
	}
	var body struct {
		Kind  chat.Kind `json:"kind"`
		User  string    `json:"user"`
		Count int       `json:"count"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if !injectable[body.Kind] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be one of raid, follow, sub, mass_sub_gift, host"})
		return
	}
	if strings.TrimSpace(body.User) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user required"})
		return
	}
	ev := chat.Event{Kind: body.Kind, User: body.User, DisplayName: body.User, Count: max(body.Count, 1)}
	if err := h.deps.Events.InjectEvent(r.Context(), ev); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) HandleConfigGet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config == nil {
		unavailable(w, "config")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Config.Config())
}

// HandleConfigPut merges the body over the current config.json, normalizes
// it and applies it to the running components.
func (h *Handlers) HandleConfigPut(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config == nil {
		unavailable(w, "config")
		return
	}
	a := h.deps.Config.Config()
	if !decodeJSON(w, r, &a) {
		return
	}
	a, err := h.deps.Config.SetConfig(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
