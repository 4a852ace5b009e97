// Package leads archives completed leads and dead-lettered notifications in
// SQL.
//
// The same Repository serves SQLite (modernc.org/sqlite, pure Go) for
// single-node deployments and PostgreSQL (lib/pq). Queries are built with
// squirrel so only the placeholder format differs between dialects.
//
// The archive is the durable record of a completion: notifications may fail
// for good, but the lead they describe is still here, and the failure is
// stored next to it for replay.
package leads
