// Package engine turns status words into alarm transitions.
//
// For every ingested word the Engine diffs it against the station baseline,
// hands each changed bit to the persister and the publisher as a transition,
// then stores the word as the new baseline and publishes the raw state. Words
// of one station are processed one at a time; different stations run in
// parallel.
package engine
