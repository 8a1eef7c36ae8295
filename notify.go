package main

import (
	"sync"
)

func newNotifier() *notifier {
	return &notifier{s: make(map[string]*NotifierRecord)}
}

// NotifierRecord is the wake-up channel of one key. It is closed and
// replaced on every change of the key.
type NotifierRecord struct {
	ch        chan struct{}
	Version   int64
	Listeners int
}

type notifier struct {
	l sync.Mutex
	s map[string]*NotifierRecord
}

// Attach registers a listener of key and returns a channel that is closed
// on the next change. Attach before checking the state of the key, so that
// a change between the check and the wait is not lost.
func (km *notifier) Attach(key string) <-chan struct{} {
	km.l.Lock()
	defer km.l.Unlock()

	v, ok := km.s[key]
	if !ok {
		v = &NotifierRecord{ch: make(chan struct{})}
		km.s[key] = v
	}
	v.Listeners++
	return v.ch
}

// Detach undoes one Attach.
func (km *notifier) Detach(key string) {
	km.l.Lock()
	defer km.l.Unlock()

	v, ok := km.s[key]
	if !ok {
		return
	}
	v.Listeners--
	if v.Listeners <= 0 {
		delete(km.s, key) // no one listening - free up RAM
	}
}

// Notify wakes everyone attached to key.
func (km *notifier) Notify(key string) {
	km.l.Lock()
	defer km.l.Unlock()

	v, ok := km.s[key]
	if !ok { // no listeners - no need to notify
		return
	}
	v.Version++
	close(v.ch)
	v.ch = make(chan struct{})
}
