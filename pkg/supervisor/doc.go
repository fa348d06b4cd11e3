/*
Package supervisor owns every configured cluster and keeps at most one live
ingestion runner per cluster.

Streaming clusters (poll interval of zero) get a subscription.Manager; poll
clusters get a PollTask that walks the controller's history on a cron
schedule and resumes from a checkpoint kept in the storage package.

Reconcile runs on a fixed interval. For each cluster it starts a runner
when none exists, replaces one that stopped running, and recycles
streaming runners that have outlived the restart ceiling. Clusters stopped
through StopCluster are left alone until StartCluster. Every start goes
through a per-cluster circuit breaker, so a cluster with bad credentials is
retried only after the breaker's backoff.

Shutdown asks every runner to stop, waits for them to drain up to the
shutdown timeout and terminates whatever is left.
*/
package supervisor
