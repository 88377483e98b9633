// Package common holds helpers shared by the CLI subcommands.
//
// It provides a gRPC client wrapper for the StationService with call timeouts
// and detection of the current system actor, which is sent along with
// destructive calls for the server audit log.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
