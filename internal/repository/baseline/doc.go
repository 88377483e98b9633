// Package baseline persists the last status word of every station.
//
// The FileRepository stores the station map as protobuf JSON on disk so a
// restarted monitor resumes diffing from the words it last saw.
package baseline
