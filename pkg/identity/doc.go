/*
Package identity resolves topology and address keys to device identities.

Cache sits in front of a Directory and answers Resolve with a Result:

	res, err := cache.Resolve(ctx, "dc1~topology_pod-1_node-101")
	switch {
	case err != nil:
		// the directory itself failed
	case res.Found():
		use(res.ID)
	case res.Status == identity.StatusInvalidKey:
		// caller bug: wrong key shape
	default:
		// not found, fall back to another key
	}

Keys are "<namespace>~<localId>" (looked up by foreign source and id) or a
bare address. Only successful lookups are cached. Entries expire TTL after
they were written (3 minutes by default) and at most MaxEntries (10000) are
kept, least recently used first out. Concurrent misses for the same key
wait on one directory call through singleflight.
*/
package identity
