// Package bridge pairs one WebRTC DataChannel with one net.Conn, pumping
// bytes in both directions until either side closes.
package bridge

import (
	"io"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tunnelmesh/internal/util"
)

const (
	readBufferSize = 4096

	highWaterMark = 256 * 1024 // pause socket->DC reads when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume once bufferedAmount drops below this
)

// Bridge owns the socket->DataChannel and DataChannel->socket pumps for one
// session. Callers construct it once the DataChannel's label is known (for
// logging) and the underlying connection has been dialed or accepted; New
// wires the callbacks but the socket->DC pump only starts once the
// DataChannel actually reports open.
//
// The two directions shut down independently, each closing only its own
// half of conn, so one side finishing early doesn't cut off bytes still in
// flight on the other: the socket->DC pump closes the read half and the
// DataChannel once it has drained the socket, and the DataChannel's close
// event shuts down only the write half so the socket peer observes EOF.
// The connection is only ever fully released once both halves have reported
// done.
type Bridge struct {
	dc    *webrtc.DataChannel
	conn  net.Conn
	label string

	writeMu sync.Mutex

	drainSignal chan struct{}
	closeOnce   sync.Once
	done        chan struct{}

	halvesMu      sync.Mutex
	readHalfDone  bool
	writeHalfDone bool
}

// New wires dc and conn together and returns the Bridge. The socket->DC
// pump is started from dc's OnOpen callback, mirroring the fact that a
// DataChannel cannot send before it opens; DC->socket delivery is wired
// immediately since OnMessage is only invoked after open anyway.
func New(dc *webrtc.DataChannel, conn net.Conn) *Bridge {
	b := &Bridge{
		dc:          dc,
		conn:        conn,
		label:       dc.Label(),
		drainSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case b.drainSignal <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		util.LogDebug("%s: opened", b.label)
		util.Stats.AddConn()
		go b.pumpSocketToDC()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if err := b.writeToSocket(msg.Data); err != nil {
			util.LogWarning("%s: socket write error: %v", b.label, err)
			_ = b.dc.Close()
			return
		}
		util.Stats.AddRecv(len(msg.Data))
	})

	dc.OnError(func(err error) {
		util.LogWarning("%s: data channel error: %v", b.label, err)
	})

	dc.OnClose(func() {
		util.LogDebug("%s: closed", b.label)
		b.closeWriteHalf()
	})

	return b
}

// pumpSocketToDC reads conn in fixed-size chunks and forwards each chunk to
// the DataChannel, observing the high/low water mark gate so a slow peer
// cannot make BufferedAmount grow without bound.
func (b *Bridge) pumpSocketToDC() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			if b.dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-b.drainSignal:
				case <-b.done:
					return
				}
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := b.dc.Send(chunk); sendErr != nil {
				util.LogWarning("%s: send error: %v", b.label, sendErr)
				break
			}
			util.Stats.AddSent(n)
		}
		if err != nil {
			if err != io.EOF {
				util.LogWarning("%s: socket read error: %v", b.label, err)
			} else {
				util.LogDebug("%s: socket EOF", b.label)
			}
			break
		}
	}
	// The pump is done producing for the DataChannel; closing it here (not
	// the socket) lets the DataChannel's own close event drive the socket's
	// write-half shutdown once every echoed byte still in flight has been
	// written back.
	_ = b.dc.Close()
	b.closeReadHalf()
}

// writeToSocket serializes writes from the DataChannel's message callback
// against closeWriteHalf's shutdown of the write half.
func (b *Bridge) writeToSocket(data []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err := b.conn.Write(data)
	return err
}

// closeReadHalf shuts down conn's read direction once the socket->DC pump
// has exited, mirroring a dropped ReadHalf in the original: the pump will
// never read again, but the DataChannel->socket direction may still have
// bytes to deliver.
func (b *Bridge) closeReadHalf() {
	if rc, ok := b.conn.(interface{ CloseRead() error }); ok {
		_ = rc.CloseRead()
	}
	b.markHalfDone(&b.readHalfDone)
}

// closeWriteHalf shuts down conn's write direction so the socket peer
// observes EOF, without touching the read half still owned by the pump.
func (b *Bridge) closeWriteHalf() {
	b.writeMu.Lock()
	if wc, ok := b.conn.(interface{ CloseWrite() error }); ok {
		_ = wc.CloseWrite()
	}
	b.writeMu.Unlock()
	b.markHalfDone(&b.writeHalfDone)
}

// markHalfDone records that one direction has shut down its half of conn
// and triggers the final teardown once both have.
func (b *Bridge) markHalfDone(half *bool) {
	b.halvesMu.Lock()
	*half = true
	both := b.readHalfDone && b.writeHalfDone
	b.halvesMu.Unlock()
	if both {
		b.Close()
	}
}

// Close fully tears down the DataChannel and the socket, releasing
// whatever either half-close left open. Safe to call multiple times and
// from multiple goroutines, and safe to call directly for a forced
// teardown (e.g. the owning Portal/Proxy shutting down) regardless of
// whether either half has shut down on its own yet.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.writeMu.Lock()
		_ = b.conn.Close()
		b.writeMu.Unlock()
		_ = b.dc.Close()
		util.Stats.RemoveConn()
	})
}

// Done returns a channel closed once the bridge has shut down.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}
