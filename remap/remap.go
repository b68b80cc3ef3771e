// Package remap defines the boundary between a proxy's remap pipeline and the
// plugins it loads.
//
// The host calls four entry points on every plugin: Init once when the plugin
// is loaded, NewInstance once per configured remap rule, DoRemap once per
// request matched by that rule, and DeleteInstance once per rule when the
// configuration is unloaded. All request state is reached through host-owned
// handles (Txn, HeaderBlock, Field) that are only valid for the duration of
// the call that received them.
package remap

// Instance is the opaque per-rule state returned by Plugin.NewInstance. The
// host stores it and hands it back on every DoRemap and on DeleteInstance.
type Instance any

// Plugin is implemented by remap plugins.
type Plugin interface {
	// Init is called once when the plugin is loaded. A non-nil error aborts
	// loading of the configuration.
	Init(api *Interface) error
	// NewInstance creates the state for one remap rule. args[0] and args[1]
	// are the rule's from and to URLs, followed by the plugin parameters.
	NewInstance(args []string) (Instance, error)
	// DoRemap is called for every request matched by the rule owning ih. It
	// may be called concurrently for different transactions.
	DoRemap(ih Instance, txn Txn) Status
	// DeleteInstance releases the state created by NewInstance. ih may be nil.
	DeleteInstance(ih Instance)
}
