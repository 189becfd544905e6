package station

// charger owns a fixed, ordered set of connectors sharing MaxPower.
type charger struct {
	id         string
	maxPower   int
	connectors []*connector
}

func newCharger(cfg ChargerConfig) *charger {
	c := &charger{id: cfg.ID, maxPower: cfg.MaxPower}
	c.connectors = make([]*connector, cfg.Connectors)
	for i := range c.connectors {
		c.connectors[i] = &connector{id: i}
	}
	return c
}

func (c *charger) connector(id int) (*connector, error) {
	if id < 0 || id >= len(c.connectors) {
		return nil, notFound("Connector %d does not exist for charger %s", id, c.id)
	}
	return c.connectors[id], nil
}

// sessions returns the active sessions in connector order.
func (c *charger) sessions() []*session {
	var out []*session
	for _, conn := range c.connectors {
		if conn.session != nil {
			out = append(out, conn.session)
		}
	}
	return out
}

// ChargerInfo describes a configured charger.
type ChargerInfo struct {
	ID         string `json:"id"`
	MaxPower   int    `json:"maxPower"`
	Connectors int    `json:"connectors"`
	// Available lists the IDs of the connectors without a session.
	Available []int `json:"availableConnectors"`
}

func (c *charger) info() ChargerInfo {
	info := ChargerInfo{ID: c.id, MaxPower: c.maxPower, Connectors: len(c.connectors), Available: []int{}}
	for _, conn := range c.connectors {
		if conn.available() {
			info.Available = append(info.Available, conn.id)
		}
	}
	return info
}
