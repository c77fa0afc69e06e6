// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package seqno provides synchronized request sequence numbers.
package seqno

import (
	"sync"
)

// Counter hands out request sequence numbers. Zero value is ready to use and
// the first number is 0.
type Counter struct {
	mutex sync.Mutex
	next  int64
}

// Returns value of the next unassigned number. I.e. the number of values
// handed out so far.
func (c *Counter) Current() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.next
}

// Returns value of the next unassigned number and increments the counter.
func (c *Counter) Next() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tmp := c.next
	c.next++

	return tmp
}
