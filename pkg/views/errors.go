package views

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrEmptyFields     = errors.New("Fill in all fields")
	ErrInvalidPassword = errors.New("Password is invalid")
	ErrEmptyMessage    = errors.New("Add a message")
	ErrChannelFields   = errors.New("Channel name and details are required")
	ErrColorsRequired  = errors.New("Pick a primary and a secondary color")
	ErrNoImage         = errors.New("No image loaded")
)

// ErrorList collects the failures of one view. Nothing is retried; the
// list is what the view shows.
type ErrorList struct {
	mu   sync.Mutex
	errs []error
}

func (l *ErrorList) Add(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *ErrorList) Reset() {
	l.mu.Lock()
	l.errs = nil
	l.mu.Unlock()
}

func (l *ErrorList) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

// Mentions reports whether any error message contains word, ignoring case.
func (l *ErrorList) Mentions(word string) bool {
	word = strings.ToLower(word)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, err := range l.errs {
		if strings.Contains(strings.ToLower(err.Error()), word) {
			return true
		}
	}
	return false
}
