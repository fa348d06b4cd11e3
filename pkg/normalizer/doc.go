/*
Package normalizer turns controller fault records into FaultEvents.

Normalizer handles a single attribute map. The event type is
uei.opennms.org/cisco/aci/<code>, or .../cleared for cleared faults, and the
severity is mapped through types.ParseSeverity; an unmapped severity is an
UnknownSeverityError rather than a guess. The device is resolved from the
first three segments of the "affected" path (or "dn") and, failing that,
from the controller host address.

Forwarder applies a Normalizer to whole payloads for one cluster. A record
that fails to normalize is counted, logged and skipped; the rest of the
batch continues. Accepted events go to the Sink.
*/
package normalizer
