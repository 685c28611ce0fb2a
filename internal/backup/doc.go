// Package backup implements the backup and restore engine: the processors
// that stream an app's event history and attachments into a portable archive
// and replay it back with collision-free identifiers, the durable job ledger,
// and the single-flight orchestration services on top.
//
// Scoping rules: backup is app-scoped (at most one running backup per app),
// restore is system-scoped (at most one running restore in the deployment).
// Job status transitions are one-directional, Running to Completed or Failed,
// and every failure path leaves a terminal status with the reason in the job
// log.
package backup
