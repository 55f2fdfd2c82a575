// Package board provides type-safe Go definitions and the shared storage
// layer for the Warren coordination kernel.
//
// # Overview
//
// The board is the central shared state system where all Warren components
// (agents, the lead's monitor, CLI) interact via well-defined data structures
// persisted through a Store. It implements a filesystem blackboard: a shared
// workspace where independent worker processes collaborate by reading and
// writing structured records, with no central service between them.
//
// # Core Concepts
//
// Tasks form a mutable dependency graph. Each task carries a status that only
// moves forward (pending → in_progress → completed), symmetric blocks /
// blocked_by edge sets, and claim metadata recording which agent owns it.
//
// Agents are long-lived worker processes identified as "name@team". Each has
// a role and a health record driven by the monitor's liveness state machine.
//
// Messages are append-ordered entries in per-agent inboxes. Typed messages
// (heartbeat, health_check, stall_alert, task_assignment, shutdown
// request/response) carry the fleet's coordination protocol.
//
// # Storage
//
// All records are reached through the Store interface. The production
// implementation, FileStore, keeps every record as a file on a shared
// filesystem: mutations run inside an exclusive flock-scoped critical section
// and land via write-temp-then-rename, so a reader only ever observes the
// fully-old or fully-new content of a record, even across a crash mid-write.
// RedisStore offers the same contract on a Redis server for deployments where
// the fleet cannot share a filesystem.
//
// # Key Schema
//
// All keys follow the pattern: team/{team}/{entity}/{id}
//
//	Tasks:       team/{team}/task/{id}
//	Task counter: team/{team}/task.counter
//	Inboxes:     team/{team}/inbox/{agent_name}
//	Team config: team/{team}/team
//
// Lock scopes are independent of keys: the whole task set of a team shares
// one scope ("tasks:{team}"), each inbox has its own, and the team config
// document has its own.
package board
