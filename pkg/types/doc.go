/*
Package types defines the data model shared across faultbridge.

The types here describe configured controller clusters and their endpoints,
the identities of locally known devices, and the normalized FaultEvent that is
handed to the event sink.

# Core Types

ClusterConfig is immutable once loaded. A cluster with a poll interval of zero
is streamed through a live subscription; any positive interval turns it into a
scheduled poll:

	cfg := types.ClusterConfig{
		Name:     "fabric-east",
		Type:     types.ClusterTypeACI,
		Location: "dc1",
		Endpoints: []types.Endpoint{
			{Host: "apic1.example.net", User: "admin", Password: "secret"},
		},
	}
	cfg.Streaming() // true

DeviceID may carry a sub-component id when the directory resolved an
interface rather than a whole device. Its string form is "<id>~<component>".

FaultEvent carries the full original attribute map as Parameters. It is
created once per raw record and never mutated after being submitted.

# Severity

Controller severities are mapped by ParseSeverity:

	critical -> CRITICAL
	major    -> MAJOR
	minor    -> MINOR
	warning  -> WARNING
	info     -> NORMAL
	cleared  -> CLEARED

Any other value is reported as unmapped; callers treat it as a data error.
*/
package types
