/*
Package apic is the controller session client.

A Client authenticates to one controller cluster, runs class queries,
keeps its token fresh, registers fault subscriptions, opens the websocket
push channel, and pages through large historical result sets.

# Sessions

Connect (or Dial) tries each configured endpoint in order. The login is a
POST to /api/aaaLogin.json carrying the credentials in the body and a Basic
header; the token found in imdata[0].aaaLogin is bound to every later call
as the APIC-cookie cookie. If no endpoint accepts the login the result is
an AuthenticationError naming the cluster, and no retry happens here.

Sessions are immutable. RefreshSession calls /api/aaaRefresh.json and
swaps in a new Session holding the re-issued token.

	client, err := apic.Dial(ctx, "fabric-east", cfg.Endpoints, apic.Config{
		Timeout: 30 * time.Second,
		Limiter: rate.NewLimiter(10, 5),
	})
	if err != nil {
		return err
	}
	resp, err := client.Query(ctx, "node/class/topSystem.json")

# Query Paths

Query refreshes the token before every request. QueryNoAuth skips that
step; the subscription path uses it so one refresh cycle does not refresh
twice. Errors are classified:

	AuthenticationError     HTTP 401/403 or failed login
	NetworkError            transport failure or HTTP 5xx (IsRetryable)
	MalformedResponseError  unparsable body, error object, other non-2xx

# Historical Pagination

WalkHistorical and PaginatedHistoricalQuery fetch records created in
[since, now), with now read once at the start. A count query runs first.
Below MaxResultSize (99000) a single fetch covers the range. Otherwise the
range is split by DayBuckets:

	since                 midnight      midnight              now
	  │◄──── bucket 0 ────►│◄─ bucket 1 ─►│◄──── bucket 2 ──────►│

Buckets are contiguous and never overlap. The checkpoint function is called
with each completed bucket's end so a crash resumes from the last complete
bucket.

# Streaming

Subscribe registers a subscription for records created after a timestamp
and returns its id; RefreshSubscription renews the lease. OpenStream dials
wss://<host>/socket<token>; every text frame is a query response in the
same imdata shape, decoded with ParseResponse.
*/
package apic
