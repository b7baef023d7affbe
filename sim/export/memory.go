package export

// MemorySink keeps every record in process memory. It backs the in-memory
// result container and the synchronous step-return mode, where the caller
// consumes results directly instead of reading files back.
type MemorySink struct {
	steps   []StepRecord
	reports []ReportRecord
	open    bool
}

// NewMemorySink returns an empty container.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Open implements Sink.
func (m *MemorySink) Open() error {
	m.open = true
	return nil
}

// WriteStep implements Sink.
func (m *MemorySink) WriteStep(rec StepRecord) error {
	m.steps = append(m.steps, rec)
	return nil
}

// WriteReport implements Sink.
func (m *MemorySink) WriteReport(rec ReportRecord) error {
	m.reports = append(m.reports, rec)
	return nil
}

// Close implements Sink.
func (m *MemorySink) Close() error {
	m.open = false
	return nil
}

// Steps returns the records accumulated so far, in step order.
func (m *MemorySink) Steps() []StepRecord { return m.steps }

// Reports returns the accumulated report rows.
func (m *MemorySink) Reports() []ReportRecord { return m.reports }

// NonConverged returns the steps flagged by the convergence loop.
func (m *MemorySink) NonConverged() []StepRecord {
	var out []StepRecord
	for _, s := range m.steps {
		if !s.Converged {
			out = append(out, s)
		}
	}
	return out
}
