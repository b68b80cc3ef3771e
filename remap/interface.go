package remap

import (
	"errors"
	"fmt"
	"unsafe"
)

var (
	// ErrInvalidInterface is returned by Init when no interface descriptor was given.
	ErrInvalidInterface = errors.New("invalid remap interface argument")
	// ErrIncompatibleVersion is returned by Init when the descriptor is smaller than the plugin expects.
	ErrIncompatibleVersion = errors.New("incorrect size of remap interface structure")
)

// Version is the remap API version implemented by the host.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// APIVersion is the remap API version this package describes.
var APIVersion = Version{Major: 1, Minor: 0}

// Interface describes the host to a plugin during Init.
type Interface struct {
	// Size is the size of the descriptor as known to the host.
	Size uintptr
	// Version is the remap API version of the host.
	Version Version
}

// InterfaceSize is the descriptor size plugins built against this package expect.
const InterfaceSize = unsafe.Sizeof(Interface{})

// NewInterface returns the descriptor a host built against this package hands to plugins.
func NewInterface() *Interface {
	return &Interface{
		Size:    InterfaceSize,
		Version: APIVersion,
	}
}

// CheckInterface validates the descriptor passed to Init.
func CheckInterface(api *Interface) error {
	if api == nil {
		return ErrInvalidInterface
	}
	if api.Size < InterfaceSize {
		return fmt.Errorf("%w: got %d, want at least %d", ErrIncompatibleVersion, api.Size, InterfaceSize)
	}
	return nil
}
