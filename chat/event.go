package chat

import (
	"time"
)

// Kind identifies an Event.
type Kind string

const (
	KindMessage     Kind = "message"
	KindJoin        Kind = "join"
	KindPart        Kind = "part"
	KindRaid        Kind = "raid"
	KindFollow      Kind = "follow"
	KindSub         Kind = "sub"
	KindMassSubGift Kind = "mass_sub_gift"
	KindHost        Kind = "host"
	KindLiveStatus  Kind = "live_status_change"
	KindStatus      Kind = "status"
)

// Status is the connection state carried by KindStatus events.
type Status string

const (
	StatusConnected         Status = "connected"
	StatusDisconnected      Status = "disconnected"
	StatusAuthFailed        Status = "auth_failed"
	StatusCredentialMissing Status = "credential_missing"
)

// Role is a chat role derived from badges.
type Role uint8

const (
	RoleBroadcaster Role = 1 << iota
	RoleModerator
	RoleSubscriber
	RoleVIP
	RoleAdmin
)

// Roles is a set of Role bits.
type Roles uint8

// Has reports whether r contains role.
func (r Roles) Has(role Role) bool { return r&Roles(role) != 0 }

// With returns r plus role.
func (r Roles) With(role Role) Roles { return r | Roles(role) }

// RolesFromBadges maps IRC badges to roles.
func RolesFromBadges(badges map[string]int) Roles {
	var r Roles
	for b := range badges {
		switch b {
		case "broadcaster":
			r = r.With(RoleBroadcaster)
		case "moderator":
			r = r.With(RoleModerator)
		case "subscriber", "founder":
			r = r.With(RoleSubscriber)
		case "vip":
			r = r.With(RoleVIP)
		case "admin", "staff", "global_mod":
			r = r.With(RoleAdmin)
		}
	}
	return r
}

// Event is one inbound occurrence on the channel.
type Event struct {
	Kind    Kind
	Channel string
	UserID  string
	// User is the lowercased login.
	User        string
	DisplayName string
	Roles       Roles
	Text        string
	// Echo is set for messages sent by the bot account itself.
	Echo bool
	Time time.Time
	// Count is the raid viewer count or the number of gifted subs.
	Count  int
	Live   bool
	Status Status
	Err    error
}
