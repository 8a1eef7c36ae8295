package cd

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// key prefixes of the pebble keyspace, one byte each
const (
	KVPrefix       = 4
	ListMetaPrefix = 6
	ListMsgPrefix  = 7
)

// Prefixes lists every prefix owned by an account. Flushing an account
// deletes the [prefix|acc|0, prefix|acc|1) range of each of them.
var Prefixes = []byte{KVPrefix, ListMetaPrefix, ListMsgPrefix}

var (
	ErrConnection = errors.New("store connection failed")
	ErrTimeout    = errors.New("timeout waiting for list item")
	ErrNotFound   = errors.New("not_found")
	ErrNotInteger = errors.New("value is not an integer or out of range")
	ErrStopped    = errors.New("store stopped")
)

// StoreError is a request rejected by the dragonqueue server.
type StoreError struct {
	Status int
	Msg    string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error %d: %s", e.Status, e.Msg)
}
