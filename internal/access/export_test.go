package access

// Waiters reports how many callers are attached to the flight for contentID.
func (p *Pipeline) Waiters(contentID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.flights[contentID]; ok {
		return f.waiters
	}
	return 0
}
