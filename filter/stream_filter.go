package filter

// Stream is implemented by filters that need to know when an ext_proc stream ends.
type Stream interface {
	// OnStreamComplete runs once per stream, whether it ended normally, with
	// an immediate response or with an error.
	OnStreamComplete(req *RequestContext)
}
