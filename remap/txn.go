package remap

import (
	"errors"
	"sync"
)

// ErrInvalidHandle is returned when releasing a handle that was never acquired or was already released.
var ErrInvalidHandle = errors.New("invalid handle")

// Field is a handle to a header field inside a HeaderBlock. It stays valid
// until released or until the callback that obtained it returns.
type Field int

// NullField is the zero handle. It never refers to a field.
const NullField Field = 0

// HeaderBlock gives access to one header block of a transaction.
type HeaderBlock interface {
	// FieldFind looks up a field by name, case insensitive. The returned
	// handle must be released with FieldRelease.
	FieldFind(name string) (Field, bool)
	// FieldValue returns the idx-th value of the field.
	FieldValue(f Field, idx int) (string, bool)
	// FieldRelease releases a handle obtained from FieldFind.
	FieldRelease(f Field) error
	// FieldSet replaces all values of the named field.
	FieldSet(name string, value string) error
}

// Txn is the host's handle to an in-flight request. It is borrowed for a
// single DoRemap call and must not be retained.
type Txn interface {
	// RequestHeaders returns the client request header block.
	RequestHeaders() HeaderBlock
	// EffectiveURL returns the fully resolved request URL. The caller owns
	// the returned string and must release it.
	EffectiveURL() (*OwnedString, bool)
}

// OwnedString is a string handed over by the host that the receiver must
// release once done with it.
type OwnedString struct {
	value     string
	once      sync.Once
	onRelease func()
	released  bool
}

// NewOwnedString wraps s. onRelease, if not nil, runs on the first Release.
func NewOwnedString(s string, onRelease func()) *OwnedString {
	return &OwnedString{value: s, onRelease: onRelease}
}

// String returns the value, or "" once released.
func (o *OwnedString) String() string {
	if o == nil || o.released {
		return ""
	}
	return o.value
}

// Release gives the string back to the host. Calling it more than once is a no-op.
func (o *OwnedString) Release() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		o.released = true
		if o.onRelease != nil {
			o.onRelease()
		}
	})
}

// Released reports whether Release was called.
func (o *OwnedString) Released() bool {
	return o != nil && o.released
}
