package server

import (
	"net/http"

	"github.com/onnwee/sound-tender/currency"
)

type userEntry struct {
	Name string `json:"name"`
	currency.User
}

// HandleUsersList returns every currency record sorted by name.
func (h *Handlers) HandleUsersList(w http.ResponseWriter, r *http.Request) {
	m := h.deps.Currency
	if m == nil {
		unavailable(w, "currency")
		return
	}
	users := m.Users()
	out := make([]userEntry, 0, len(users))
	for _, name := range m.SortedNames() {
		if u, ok := users[name]; ok {
			out = append(out, userEntry{Name: name, User: u})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleUserCreate adds a record: {"name": ..., "points": ..., ...}.
func (h *Handlers) HandleUserCreate(w http.ResponseWriter, r *http.Request) {
	m := h.deps.Currency
	if m == nil {
		unavailable(w, "currency")
		return
	}
	var in userEntry
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := m.AddUser(in.Name, in.User); err != nil {
		writeError(w, r, err)
		return
	}
	u, _ := m.User(in.Name)
	writeJSON(w, http.StatusCreated, userEntry{Name: currency.Username(in.Name), User: u})
}

// HandleUserUpdate replaces the editable fields of a record. The rank is
// derived and last_seen is kept.
func (h *Handlers) HandleUserUpdate(w http.ResponseWriter, r *http.Request) {
	m := h.deps.Currency
	if m == nil {
		unavailable(w, "currency")
		return
	}
	var in currency.User
	if !decodeJSON(w, r, &in) {
		return
	}
	name := r.PathValue("name")
	u, err := m.UpdateUser(name, func(u *currency.User) {
		u.Points = in.Points
		u.Hours = in.Hours
		u.IsRegular = in.IsRegular
		u.IsSubscriber = in.IsSubscriber
		u.IsMod = in.IsMod
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userEntry{Name: currency.Username(name), User: u})
}

// HandleUserPoints adjusts a balance: {"add": n} or {"remove": n}.
func (h *Handlers) HandleUserPoints(w http.ResponseWriter, r *http.Request) {
	m := h.deps.Currency
	if m == nil {
		unavailable(w, "currency")
		return
	}
	var body struct {
		Add    float64 `json:"add"`
		Remove float64 `json:"remove"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	name := r.PathValue("name")
	var (
		points float64
		err    error
	)
	if body.Remove > 0 {
		points, err = m.RemovePoints(name, body.Remove)
	} else {
		points, err = m.AddPoints(name, body.Add)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": currency.Username(name), "points": points})
}

// HandleUserDelete removes a record.
func (h *Handlers) HandleUserDelete(w http.ResponseWriter, r *http.Request) {
	m := h.deps.Currency
	if m == nil {
		unavailable(w, "currency")
		return
	}
	if err := m.RemoveUser(r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleSettingsGet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Currency == nil {
		unavailable(w, "currency")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Currency.Settings())
}

// HandleSettingsPut merges the body over the current settings, normalizes
// and persists them.
func (h *Handlers) HandleSettingsPut(w http.ResponseWriter, r *http.Request) {
	if h.deps.Currency == nil {
		unavailable(w, "currency")
		return
	}
	s := h.deps.Currency.Settings()
	if !decodeJSON(w, r, &s) {
		return
	}
	s, err := h.deps.Currency.SetSettings(r.Context(), s)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) HandleRanksGet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Currency == nil {
		unavailable(w, "currency")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Currency.Ranks())
}

// HandleRanksPut replaces the rank table.
func (h *Handlers) HandleRanksPut(w http.ResponseWriter, r *http.Request) {
	if h.deps.Currency == nil {
		unavailable(w, "currency")
		return
	}
	var ranks []currency.Rank
	if !decodeJSON(w, r, &ranks) {
		return
	}
	if err := h.deps.Currency.SetRanks(r.Context(), ranks); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Currency.Ranks())
}
