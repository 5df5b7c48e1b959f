// Copyright 2026 Formal Kernel Authors

package integrity

// Reporter fans a Panic out to every configured AuditSink before raising
// it. A sink write failure is swallowed rather than returned: losing an
// audit record must never mask the panic itself, since the panic is what
// keeps the kernel from continuing on unverified state.
type Reporter struct {
	sinks []AuditSink
}

// NewReporter constructs a Reporter over the given sinks. sinks may be
// empty (the panic still happens; nothing gets recorded).
func NewReporter(sinks ...AuditSink) *Reporter {
	return &Reporter{sinks: sinks}
}

// Raise records p to every sink, then panics with it.
func (r *Reporter) Raise(p *Panic) {
	for _, s := range r.sinks {
		_ = s.Record(p)
	}
	panic(p)
}
