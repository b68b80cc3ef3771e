package remap

// Status is the disposition DoRemap reports back to the host.
type Status int

const (
	// StatusError makes the host fail the request with an error page.
	StatusError Status = -1
	// StatusNoRemap means the request was not altered; the next plugin in the chain runs.
	StatusNoRemap Status = 0
	// StatusDidRemap means the request was altered; the next plugin in the chain runs.
	StatusDidRemap Status = 1
	// StatusNoRemapStop means the request was not altered and the chain stops here.
	StatusNoRemapStop Status = 2
	// StatusDidRemapStop means the request was altered and the chain stops here.
	StatusDidRemapStop Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusNoRemap:
		return "no_remap"
	case StatusDidRemap:
		return "did_remap"
	case StatusNoRemapStop:
		return "no_remap_stop"
	case StatusDidRemapStop:
		return "did_remap_stop"
	}
	return "unknown"
}

// Stop reports whether the host must not call the remaining plugins of the chain.
func (s Status) Stop() bool {
	return s == StatusNoRemapStop || s == StatusDidRemapStop || s == StatusError
}

// Remapped reports whether the plugin altered the request.
func (s Status) Remapped() bool {
	return s == StatusDidRemap || s == StatusDidRemapStop
}
