// Package observability builds the process logger.
//
// Every component receives a *zap.Logger through its constructor; nothing in
// the service logs through a package-level global.
package observability
