/*
Package subscription keeps a streaming fault subscription alive for one
controller cluster.

A Manager connects through a Connector, opens the controller's websocket
stream and registers a class subscription. Frames read from the stream are
handed to a bounded worker pool so slow processing never blocks the reader.
A control loop ticks once a second: it notices a closed stream, renews the
session token and subscription lease before the controller's 60 second
expiry, and honours a stop request.

# States

	Disconnected -> Connecting -> Subscribed <-> Refreshing
	any state    -> Stopped (terminal)

A Manager never reconnects itself. A Disconnected manager stays down until
its owner replaces it with a fresh one.
*/
package subscription
