package interceptor

import (
	"errors"
	"io"
)

// errAborted marks a host-side close before the body was fully read.
var errAborted = errors.New("interceptor: transaction aborted by host")

func newMirrorPipe() (*io.PipeReader, *io.PipeWriter) {
	return io.Pipe()
}

// bodyTap wraps the host-visible response body. Every chunk the host
// reads is teed into the streaming hash and the open mirror writer
// before being returned; bytes reach the host unmodified and in order.
//
// EOF drives onResponseEnd, a read error or an early Close drives
// onResponseError. Either way the tap fires exactly one terminal
// lifecycle event.
type bodyTap struct {
	interceptor *Interceptor
	txn         *transaction
	body        io.ReadCloser
	finished    bool
}

func (b *bodyTap) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 {
		b.interceptor.onResponseData(b.txn, p[:n])
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		if !b.finished {
			b.finished = true
			b.interceptor.onResponseEnd(b.txn)
		}
	default:
		if !b.finished {
			b.finished = true
			b.interceptor.onResponseError(b.txn, err)
		}
	}
	return n, err
}

func (b *bodyTap) Close() error {
	if !b.finished {
		b.finished = true
		b.interceptor.onResponseError(b.txn, errAborted)
	}
	return b.body.Close()
}
