// Package frontier defines the core types and collaborator contracts shared by
// the buffer populator, the frontier stores, the in-flight trackers and the
// dispatch pipeline.
package frontier
