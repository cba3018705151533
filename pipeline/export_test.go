package pipeline

// Apply runs ev on the calling goroutine. Only for use before Start.
func (p *Pipeline) Apply(ev Event, endOfBatch bool) error {
	return p.apply(ev, endOfBatch)
}

// Buffered returns how many messages wait for the next flush.
func (p *Pipeline) Buffered() int {
	return p.batch.size()
}

// AdvanceIdle runs one idle watermark tick on the calling goroutine.
func (p *Pipeline) AdvanceIdle() {
	p.batch.advanceIdle(p.ctx)
}
