// Package daemon coordinates the long-running fieldnotesd process.
//
// It owns the HTTP listener and the store handle and holds a flock-based
// lock so two daemons never share one database. Request handling lives in
// the api package; the daemon only manages startup, shutdown, and status.
package daemon
