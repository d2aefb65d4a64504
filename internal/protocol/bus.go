package protocol

import (
	"io"
	"sync"
	"time"

	"github.com/hpgtool/hpg/internal/hpgerr"
)

// DefaultReceiveTimeout bounds how long a Receive waits for the peer.
// It is policy rather than contract; callers may pass their own timeout.
const DefaultReceiveTimeout = 50 * time.Second

type busItem struct {
	msg *Message
	err error
}

// Bus is a typed send/receive layer over one byte stream. Writes are
// serialised under a mutex so concurrent producers (protocol replies and
// forwarded tracker events) emit whole frames only. A background pump
// decodes incoming frames; Receive consumes them with a timeout.
type Bus struct {
	w   io.Writer
	wmu sync.Mutex

	frames chan busItem

	termMu  sync.Mutex
	termErr error
}

// NewBus wraps rw and starts the read pump.
func NewBus(rw io.ReadWriter) *Bus {
	var b = &Bus{w: rw, frames: make(chan busItem, 64)}
	go b.readLoop(rw)
	return b
}

func (b *Bus) readLoop(r io.Reader) {
	var dec Decoder
	var buf = make([]byte, 32*1024)
	for {
		var n, err = r.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			for {
				var msg, derr = dec.Next()
				if derr != nil {
					b.frames <- busItem{err: derr}
					continue
				}
				if msg == nil {
					break
				}
				b.frames <- busItem{msg: msg}
			}
		}
		if err != nil {
			b.termMu.Lock()
			if err == io.EOF {
				b.termErr = hpgerr.ErrEndOfStream
			} else {
				b.termErr = hpgerr.Wrap(hpgerr.Transport, err, "reading stream")
			}
			b.termMu.Unlock()
			close(b.frames)
			return
		}
	}
}

func (b *Bus) terminal() error {
	b.termMu.Lock()
	defer b.termMu.Unlock()
	return b.termErr
}

// Send serialises and writes msg. It fails with a Transport error when the
// underlying stream is lost.
func (b *Bus) Send(msg Message) error {
	var frame, err = EncodeFrame(msg)
	if err != nil {
		return err
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, err = b.w.Write(frame); err != nil {
		return hpgerr.Wrap(hpgerr.Transport, err, "writing frame")
	}
	return nil
}

// Receive returns the next frame, hpgerr.ErrTimedOut past the deadline, or
// hpgerr.ErrEndOfStream after a clean peer close. Passing zero uses
// DefaultReceiveTimeout.
func (b *Bus) Receive(timeout time.Duration) (Message, error) {
	if timeout == 0 {
		timeout = DefaultReceiveTimeout
	}
	var timer = time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item, ok := <-b.frames:
		if !ok {
			return Message{}, b.terminal()
		}
		if item.err != nil {
			return Message{}, item.err
		}
		return *item.msg, nil
	case <-timer.C:
		return Message{}, hpgerr.ErrTimedOut
	}
}
