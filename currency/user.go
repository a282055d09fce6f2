package currency

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a last-seen time. It is written as RFC 3339 and read from
// RFC 3339, "2006-01-02 15:04:05" or a unix epoch number.
type Timestamp struct{ time.Time }

var legacyLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02T15:04:05.999999"}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = Timestamp{}
		return nil
	}
	if b[0] != '"' {
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return err
		}
		sec, frac := math.Modf(f)
		*t = Timestamp{time.Unix(int64(sec), int64(frac*1e9)).UTC()}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range legacyLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp{parsed}
			return nil
		}
	}
	// unparseable times are dropped rather than failing the whole file
	*t = Timestamp{}
	return nil
}

// User is one viewer's currency record, keyed by lowercase username.
type User struct {
	Points       float64   `json:"points"`
	Hours        float64   `json:"hours"`
	LastSeen     Timestamp `json:"last_seen"`
	IsRegular    bool      `json:"is_regular,omitempty"`
	IsSubscriber bool      `json:"is_subscriber,omitempty"`
	IsMod        bool      `json:"is_mod,omitempty"`
	Rank         string    `json:"rank,omitempty"`
}

// Round2 rounds to two decimals, the precision of every balance.
func Round2(x float64) float64 { return math.Round(x*100) / 100 }

// Username normalizes a chat handle into a users map key.
func Username(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// FormatHours renders fractional hours as "3h25m".
func FormatHours(hours float64) string {
	mins := int(math.Round(hours * 60))
	if mins < 0 {
		mins = 0
	}
	return strconv.Itoa(mins/60) + "h" + strconv.Itoa(mins%60) + "m"
}
