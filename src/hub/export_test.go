package hub

// Replaying reports whether live deliveries are held behind a history replay.
func (c *Client) Replaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holding
}
