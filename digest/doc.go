// Package digest implements digest window resolution: deciding, for
// each triggered digest job, whether it opens a new aggregation window
// or folds into one that is already collecting events.
//
// The resolver never holds locks of its own. The store's conditional
// primitives (merge-into-open-window, claim-window-ownership) carry the
// atomicity, and the resolver retries the narrow race where a window
// closes between a failed merge and a failed claim.
package digest
