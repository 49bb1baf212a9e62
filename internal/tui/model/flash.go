package model

import (
	"sync"
	"time"
)

// Flash holds the transient message shown in the status bar.
type Flash struct {
	mu      sync.RWMutex
	message string
	isError bool
	expires time.Time
	now     func() time.Time
}

// NewFlash creates an empty flash.
func NewFlash() *Flash {
	return &Flash{now: time.Now}
}

// Info stores a message that expires after d.
func (f *Flash) Info(msg string, d time.Duration) {
	f.set(msg, false, d)
}

// Error stores an error message that expires after d.
func (f *Flash) Error(msg string, d time.Duration) {
	f.set(msg, true, d)
}

func (f *Flash) set(msg string, isError bool, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.isError = isError
	f.expires = f.now().Add(d)
}

// Get returns the current message and whether it is an error, or empty if expired.
func (f *Flash) Get() (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.now().After(f.expires) {
		return "", false
	}
	return f.message, f.isError
}
