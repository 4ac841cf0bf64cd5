package ari

// dispatch is the single delivery worker. Events are handled strictly in
// arrival order; within one event, class callbacks run before per-entity
// callbacks, and finish eviction runs last, before the next event is
// drained. Callback chains are snapshotted so handlers may mutate the
// callback maps; such changes are seen from the next event on.
func (c *Client) dispatch() {
	defer close(c.dispatchDone)
	for ev := range c.queue {
		c.deliver(ev)
	}
}

func (c *Client) deliver(ev *Event) {
	for _, fn := range c.cbs.classSnapshot(ev.Type) {
		c.invokeClass(fn, ev)
	}

	for _, get := range channelRelated[ev.Type] {
		ch := get(ev)
		if ch == nil {
			continue
		}
		for _, fn := range c.cbs.entitySnapshot(ev.Type, ch.ID) {
			c.invokeEntity(fn, ev, ch)
		}
	}
	for _, get := range bridgeRelated[ev.Type] {
		b := get(ev)
		if b == nil {
			continue
		}
		for _, fn := range c.cbs.entitySnapshot(ev.Type, b.ID) {
			c.invokeEntity(fn, ev, b)
		}
	}
	for _, get := range playbackRelated[ev.Type] {
		p := get(ev)
		if p == nil {
			continue
		}
		for _, fn := range c.cbs.entitySnapshot(ev.Type, p.ID) {
			c.invokeEntity(fn, ev, p)
		}
	}

	for _, get := range channelFinish[ev.Type] {
		if ch := get(ev); ch != nil {
			c.reg.removeChannel(ch.ID)
			c.cbs.purgeEntity(ch.ID)
		}
	}
	for _, get := range bridgeFinish[ev.Type] {
		if b := get(ev); b != nil {
			c.reg.removeBridge(b.ID)
			c.cbs.purgeEntity(b.ID)
		}
	}
	for _, get := range playbackFinish[ev.Type] {
		if p := get(ev); p != nil {
			c.reg.removePlayback(p.ID)
			c.cbs.purgeEntity(p.ID)
		}
	}
}

// invokeClass runs one class callback, isolating panics so a failing
// handler cannot take down its siblings or the dispatcher.
func (c *Client) invokeClass(fn EventHandler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event callback panicked", "type", ev.Type, "panic", r)
		}
	}()
	fn(c, ev)
}

func (c *Client) invokeEntity(fn EntityHandler, ev *Event, ent Entity) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("entity callback panicked",
				"type", ev.Type,
				"entity", ent.EntityID(),
				"panic", r,
			)
		}
	}()
	fn(c, ev, ent)
}
