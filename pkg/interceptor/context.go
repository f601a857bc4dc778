package interceptor

import (
	"context"
	"io"
	"time"

	"github.com/platformatic/traffic-interceptor/pkg/filter"
)

// triState distinguishes "not yet decided" from an explicit yes/no.
// A yes set at request start can later be turned into a no by response
// rejection or teardown.
type triState uint8

const (
	undecided triState = iota
	decidedYes
	decidedNo
)

func (t triState) yes() bool { return t == decidedYes }

type requestState struct {
	filter.RequestInfo
	Timestamp int64 // epoch-ms at transaction start
	Hash      uint64
}

type responseState struct {
	filter.ResponseInfo
	Hash uint64
}

// transaction is the per-request state bag carried across the
// lifecycle. It is owned exclusively by the goroutine driving the
// host's request and body reads; the only concurrent toucher is the
// body-POST goroutine, which communicates via the pipe and the result
// channel.
type transaction struct {
	request  requestState
	response responseState
	labels   map[string]string

	interceptRequest  triState
	interceptResponse triState
	sendMeta          triState
	sendBody          triState

	hasher  streamHasher
	started time.Time

	// mirror body plumbing, nil until onResponseStart opens the POST
	pw         *io.PipeWriter
	bodyResult chan error
	cancelBody context.CancelFunc
	stopAbort  func() bool

	bodyBytes int64
}

func (t *transaction) dropRequest() {
	t.interceptRequest = decidedNo
	t.sendMeta = decidedNo
	t.sendBody = decidedNo
}

func (t *transaction) dropResponse() {
	t.interceptResponse = decidedNo
	t.sendMeta = decidedNo
	t.sendBody = decidedNo
}
