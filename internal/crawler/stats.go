package crawler

import "sync/atomic"

// counters are shared by the stages of one task
type counters struct {
	fetched     atomic.Int64
	fetchErrors atomic.Int64
	recorded    atomic.Int64
	stored      atomic.Int64
	storeErrors atomic.Int64
}

func (c *counters) addFetched(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.fetched.Add(1)
	} else {
		c.fetchErrors.Add(1)
	}
}

func (c *counters) addRecorded(n int) {
	if c != nil {
		c.recorded.Add(int64(n))
	}
}

func (c *counters) addStored(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.stored.Add(1)
	} else {
		c.storeErrors.Add(1)
	}
}
