// Package config defines the configuration for a classlog node.
//
// Regardless of how classlog is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, classlog relies on a data directory, defined by
// Config.DataDir, where it keeps its persistent state:
//
//	keystore/   // a Badger database containing the device identity, its
//	            // self-signed certificate, and the pinned peer certificates.
//	classlog.db // the SQLite database holding the record store, the change
//	            // log, and the per-peer sync state.
package config
