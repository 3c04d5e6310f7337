// Package store groups the frontier store implementations. Each subpackage
// translates a frontier.QuerySpec into its own query language and returns
// sampled candidates grouped by partition.
package store
