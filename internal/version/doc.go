// Package version exposes build metadata of alarm-monitor.
//
// Version, Commit and BuildTime are injected with ldflags; for plain
// `go build` binaries the commit falls back to the VCS revision recorded
// by the Go toolchain.
package version
