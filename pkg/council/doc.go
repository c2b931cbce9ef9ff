/*
Package council implements the dependency-graph coordinator: the
single-owner event loop that merges worker-submitted attribute-value
dependency graphs per change set, claims nodes whose dependencies are
satisfied for processing, and fans out completion/failure notifications
to every worker still waiting on a node.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                  Coordinator.run                         │
	│        (single goroutine, owns all graph state)           │
	└───────────────────────┬────────────────────────────────--─┘
	                        │
	        ┌───────────────┼───────────────┐
	        ▼                ▼               ▼
	   Request chan     stats query     active-channels query
	  (from Transport)  (from metrics   (from Reaper)
	                     .Collector)
	        │
	        ▼
	┌───────────────────────────────────────────┐
	│ ChangeSetGraph: per change set,            │
	│ map[NodeID]*NodeMetadata                   │
	│  • MergeDependencyGraph                    │
	│  • FetchAllAvailable (claims ready nodes)  │
	│  • MarkNodeAsProcessed / MarkNodeAsFailed  │
	│  • RemoveChannel / RemoveChannelEverywhere │
	└─────────────────────────────────────────--─┘

No mutex guards the graph: it is only ever touched from inside
Coordinator.run, the same single-owner-goroutine discipline the
teacher's pkg/scheduler.Scheduler and pkg/reconciler.Reconciler use for
their own state, generalized here from a ticker-driven loop to a
request-driven one.

Transport adapts a pkg/bus.MessageBus into Coordinator.Submit calls and
implements Notifier to publish results back; Reaper periodically
reconciles the graph's tracked interest against Transport's live
subscriptions and synthesizes a Cancel for anything stale.
*/
package council
