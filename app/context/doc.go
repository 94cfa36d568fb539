// Package context holds the state shared by the CLI commands: the open
// database, the loaded configuration and the host interfaces.
//
// It's separate from the app package so that cli can import it.
package context
