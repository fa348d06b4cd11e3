// Package client is a small HTTP client for the ingester's operations API,
// used by the faultbridge CLI to list clusters and start, stop or restart
// them on a running process.
package client
