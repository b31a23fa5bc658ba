// Package sink provides reference implementations of the downstream
// capability the collector's entry driver calls. Neither implementation
// here is the "downstream line-oriented storage / index" the core spec
// treats as an external collaborator — there is no query API, no
// indexing, no retention policy.
package sink

// Sink is the capability the entry driver calls for each LogEntry it
// receives. Accept has no ordering guarantee across keys but strict
// per-key ordering. key is the full canonical path of the source file,
// lossy-converted to text; line is the line content without its
// terminating newline. Close releases any resource the sink holds; a sink
// with nothing to release returns nil.
type Sink interface {
	Accept(key, line string) error
	Close() error
}
