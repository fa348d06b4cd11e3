/*
Package log provides structured logging for faultbridge using zerolog.

A single package-level Logger is configured once by Init. Long-lived units
derive child loggers that carry their context on every line:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithCluster("subscription", "fabric-east")
	logger.Info().Str("state", "subscribed").Msg("subscription established")

	logger = log.WithSubscription(logger, "72057598349672450")
	logger.Debug().Msg("subscription refreshed")

JSON output is intended for production; console output is for local runs:

	{"level":"info","component":"subscription","cluster":"fabric-east","time":"...","message":"subscription established"}
	10:30AM INF subscription established cluster=fabric-east component=subscription

# Levels

Debug traces individual messages and refresh calls. Info records lifecycle
transitions such as login, subscribe, restart and shutdown. Warn is used for
per-record failures that were skipped and for dropped messages. Error is used
when a cluster's manager or poll task fails.
*/
package log
