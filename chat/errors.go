package chat

import (
	"errors"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

var (
	// ErrCredentialMissing means no token or channel is configured.
	ErrCredentialMissing = errors.New("chat credentials missing")
	// ErrAuthFailed means Twitch rejected the login; the gateway stops.
	ErrAuthFailed = errors.New("chat authentication failed")
	// ErrNotConnected is returned by Send while the connection is down.
	ErrNotConnected = errors.New("chat not connected")
)

// ErrorClass says whether a transport error is worth retrying.
type ErrorClass int

const (
	ErrorClassRetryable ErrorClass = iota
	ErrorClassFatal
)

func (ec ErrorClass) String() string {
	if ec == ErrorClassFatal {
		return "fatal"
	}
	return "retryable"
}

// ClassifyError sorts connection errors. Authentication problems are fatal;
// everything else, including unknown errors, is retried.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassRetryable
	}
	if errors.Is(err, twitch.ErrLoginAuthenticationFailed) || errors.Is(err, ErrAuthFailed) {
		return ErrorClassFatal
	}
	lower := strings.ToLower(err.Error())
	for _, p := range []string{
		"login authentication failed",
		"improperly formatted auth",
		"invalid nick",
		"login unsuccessful",
	} {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}
