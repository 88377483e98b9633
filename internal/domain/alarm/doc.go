// Package alarm contains core domain types for station alarm monitoring.
//
// A station reports a 16-bit status word in which every bit is one alarm
// channel. Word and Diff turn two consecutive words into edges ordered from
// bit 15 down to bit 0, and Transition is the immutable record stored and
// broadcast for every such edge.
package alarm
