// Package flow implements the branch-flow promotion engine.
//
// The engine walks every repository's ordered branch flow, decides which hops
// are eligible, creates or reuses merge requests, drives them through the
// merge-request monitor, blocks on deployment checkpoints, and folds in stray
// commits found outside the main flow. Libraries are promoted before services;
// a single repository's failure never aborts the batch.
package flow
