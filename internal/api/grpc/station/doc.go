// Package station implements the gRPC transport of the alarm monitor.
//
// The StationService is declared by hand on top of protobuf well-known types
// (wrappers, Struct and ListValue), so no generated code is needed. The package
// holds both the server adapter and a thin client stub.
package station
