// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package reqproxy is a proxy for a Translator. The host calls into the device
// from several threads but the translator and the backing store are not
// reentrant. The proxy serializes all requests into one go routine, so every
// request is fully drained before the next one starts.
package reqproxy

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/asch/axe/internal/axe/seqno"
	"github.com/asch/axe/internal/axe/translator"
)

// The proxy was closed and does not accept requests anymore.
var ErrClosed = errors.New("request proxy closed")

// Anything able to execute a request and return the sector cursor after it.
type Translator interface {
	Translate(r translator.Request) (int64, error)
}

// Proxy to the Translator. All requests go through one channel and are
// executed by a single worker.
type Proxy struct {
	instance Translator

	seq seqno.Counter

	requests chan request
	quit     chan struct{}
	done     chan struct{}

	closeOnce sync.Once
}

// Internal request structure just for wrapping the function call into the
// channel communication.
type request struct {
	r     translator.Request
	reply chan reply
}

type reply struct {
	cursor int64
	err    error
}

// Returns proxy which can be directly used. It spawns one worker which handles
// all the requests.
func New(instance Translator) *Proxy {
	p := &Proxy{
		instance: instance,
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go p.worker()

	return p
}

// Translate submits the request to the worker and waits for the result.
func (p *Proxy) Translate(r translator.Request) (int64, error) {
	replyChan := make(chan reply, 1)

	select {
	case p.requests <- request{r, replyChan}:
	case <-p.quit:
		return r.Sector, ErrClosed
	}

	rep := <-replyChan

	return rep.cursor, rep.err
}

// Number of requests handed to the worker so far.
func (p *Proxy) Requests() int64 {
	return p.seq.Current()
}

// Close stops the worker. A request already accepted by the worker is
// finished first. When Close returns the translator is not used anymore.
func (p *Proxy) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})

	<-p.done
}

func (p *Proxy) worker() {
	defer close(p.done)

	for {
		select {
		case r := <-p.requests:
			p.translate(r)
		case <-p.quit:
			return
		}
	}
}

func (p *Proxy) translate(req request) {
	seq := p.seq.Next()

	cursor, err := p.instance.Translate(req.r)

	log.Trace().
		Int64("seq", seq).
		Int64("sector", req.r.Sector).
		Str("dir", req.r.Dir.String()).
		Int("segments", len(req.r.Segments)).
		Int64("cursor", cursor).
		Err(err).
		Msg("request")

	req.reply <- reply{cursor, err}
}
