package station

// connector is one plug of a charger. It holds at most one session.
type connector struct {
	id      int
	session *session
}

func (c *connector) available() bool { return c.session == nil }
