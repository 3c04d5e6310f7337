// Package inflight holds implementations of the set of URLs currently being
// fetched. Populators only read it; the dispatcher marks and releases URLs.
package inflight
