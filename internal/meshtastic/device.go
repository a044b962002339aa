package meshtastic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartyhall/meshbbs/internal/framer"
	"github.com/smartyhall/meshbbs/internal/logging"
	"github.com/smartyhall/meshbbs/internal/metrics"
	"github.com/smartyhall/meshbbs/internal/transport"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

const (
	readBufSize = 4096
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 2 * time.Second
	inboundBuffer = 4096 // approximates an unbounded inbound channel
	writeQueueDepth = 256
)

// Device owns the serial handle (or, in no-op/test mode, nothing) and runs
// the reader and writer tasks. When Port is nil the writer records
// outgoing messages into an in-memory vector instead of writing bytes,
// preserving order: this capture hook is the basis of the test harness.
type Device struct {
	port Port
	codec MessageCodec
	logger *slog.Logger

	events chan any
	tx *transport.AsyncTx[OutgoingMessage]

	nextPacketID atomic.Uint32
	onBeforeSend func(packetID uint32, msg OutgoingMessage)

	mu sync.Mutex
	captured []OutgoingMessage

	wg sync.WaitGroup
}

// NewDevice constructs a Device. port may be nil for no-op/test mode.
// onBeforeSend, if non-nil, is invoked synchronously from the writer task
// immediately before encoding, letting the reliable-send tracker register
// the packet before any chance of an ack racing ahead of registration.
func NewDevice(ctx context.Context, port Port, codec MessageCodec, onBeforeSend func(uint32, OutgoingMessage), logger *slog.Logger) *Device {
	if logger == nil {
		logger = logging.L()
	}
	d := &Device{
		port: port,
		codec: codec,
		logger: logger,
		events: make(chan any, inboundBuffer),
		onBeforeSend: onBeforeSend,
	}
	d.nextPacketID.Store(1) // packet id 0 is reserved/never issued

	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrRadioWrite)
			logger.Error("radio_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncRadioTx() },
	}
	d.tx = transport.NewAsyncTx(ctx, writeQueueDepth, d.send, hooks)

	if port != nil {
		d.wg.Add(1)
		go d.readLoop(ctx)
	}
	return d
}

// Events returns the channel of decoded inbound events (*TextEvent,
// *AckEvent, *FailEvent).
func (d *Device) Events() <-chan any { return d.events }

// Enqueue hands a message to the writer task. It never blocks: callers are
// expected to go through the transmit scheduler, which already enforces
// its own bounded queue and overflow policy; this queue
// exists purely to decouple encode/write latency from the scheduler's
// dispatch loop.
func (d *Device) Enqueue(msg OutgoingMessage) error { return d.tx.Send(msg) }

// Close stops the writer (and, if a port is attached, the reader) and
// waits for both to exit.
func (d *Device) Close() {
	d.tx.Close()
	if d.port != nil {
		_ = d.port.Close()
	}
	d.wg.Wait()
}

// TestCaptured returns a copy of messages recorded in no-op/test mode.
func (d *Device) TestCaptured() []OutgoingMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]OutgoingMessage, len(d.captured))
	copy(out, d.captured)
	return out
}

func (d *Device) allocPacketID() uint32 {
	for {
		id := d.nextPacketID.Add(1) - 1
		if id != 0 {
			return id
		}
		// wrapped past zero; skip it and try again
	}
}

func (d *Device) send(msg OutgoingMessage) error {
	pid := d.allocPacketID()
	if d.onBeforeSend != nil {
		d.onBeforeSend(pid, msg)
	}
	if d.port == nil {
		d.mu.Lock()
		d.captured = append(d.captured, msg)
		d.mu.Unlock()
		return nil
	}
	payload, err := d.codec.EncodeText(msg.Destination, msg.Body, msg.WantAck, pid)
	if err != nil {
		return err
	}
	_, err = d.port.Write(framer.Encode(payload))
	return err
}

func (d *Device) readLoop(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.events)
	buf := make([]byte, readBufSize)
	fr := framer.New()
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := d.port.Read(buf)
		if n > 0 {
			fr.Push(buf[:n])
			fr.Drain(func(frame []byte) {
					metrics.IncRadioRx()
					ev, derr := d.codec.Decode(frame)
					if derr != nil {
						metrics.IncMalformed()
						return
					}
					if ev == nil {
						return
					}
					select {
					case d.events <- ev:
					case <-ctx.Done():
					}
				})
			backoff = rxBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				return // device removed or fatal
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue
			}
			metrics.IncError(metrics.ErrRadioRead)
			d.logger.Warn("radio_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}
