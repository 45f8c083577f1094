// Package window maintains the concurrent sliding windows of every scale
// and emits an immutable Snapshot each time one closes.
//
// Sliding windows (micro, meso, macro) sit on a hop grid: a window ends on a
// multiple of its hop, so each instant lies in the final hop ("anchor hop")
// of exactly one window per scale. The session window grows until Flush.
//
// Window closure is driven only by event timestamps, never wall clock, so a
// fixed event sequence under a fixed configuration always yields the same
// snapshots.
package window
