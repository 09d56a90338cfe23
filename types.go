package authkit

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Storage is the persistence surface behind the TokenStore and the
// per-user active selection. Implementations must be safe for concurrent
// use. A missing key returns ("", false, nil), not an error.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// StorageWatcher is an optional Storage capability: implementations that can
// observe external writes (another tab or process) invoke fn with the changed
// key. The returned stop function cancels the watch.
type StorageWatcher interface {
	Watch(fn func(key string)) (stop func(), err error)
}

// Notifier receives user-visible outcome messages from the request pipeline.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// Redirector is how the session layer asks the host application to navigate,
// e.g. back to the login entry point after sign-out.
type Redirector interface {
	RedirectToLogin()
}

// TokenChange describes a Token Store mutation published to subscribers.
type TokenChange struct {
	Pair     *TokenPair
	External bool
	At       time.Time
}

type noopNotifier struct{}

func (noopNotifier) Success(string) {}
func (noopNotifier) Error(string)   {}

type noopRedirector struct{}

func (noopRedirector) RedirectToLogin() {}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTHKIT "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTHKIT "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTHKIT "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTHKIT "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
