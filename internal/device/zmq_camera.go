package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
)

const zmqRecvTimeout = 250 * time.Millisecond

var jpegMagic = []byte{0xff, 0xd8}

// FrameEnvelope is the CBOR message an external encoder pushes for each frame.
// Bare JPEG payloads are accepted as well.
type FrameEnvelope struct {
	Type string `cbor:"type"`
	Seq  uint64 `cbor:"seq"`
	Data []byte `cbor:"data"`
}

// ZMQCamera pulls encoded frames from an external camera process over a ZMQ
// PULL socket. Only the most recent frame is kept between calls to Next.
type ZMQCamera struct {
	frames chan []byte
	done   chan struct{}
	cancel context.CancelFunc

	errMu sync.Mutex
	err   error

	decodeFailures atomic.Uint64
}

// NewZMQCamera connects to endpoint and starts receiving. The receive task
// ends when ctx is cancelled, Close is called or the socket fails.
func NewZMQCamera(ctx context.Context, endpoint string, logEvery int, logger *slog.Logger) (*ZMQCamera, error) {
	if logEvery < 1 {
		logEvery = 1
	}
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(zmqRecvTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	recvCtx, cancel := context.WithCancel(ctx)
	c := &ZMQCamera{
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go c.receive(recvCtx, socket, logEvery, logger)
	return c, nil
}

func (c *ZMQCamera) receive(ctx context.Context, socket *zmq4.Socket, logEvery int, logger *slog.Logger) {
	defer close(c.done)
	defer socket.Close()

	for {
		select {
		case <-ctx.Done():
			c.fail(ErrCameraClosed)
			return
		default:
		}

		msg, err := socket.RecvBytes(0)
		if err != nil {
			switch zmq4.AsErrno(err) {
			case zmq4.Errno(syscall.EAGAIN), zmq4.Errno(syscall.EINTR):
				continue
			}
			c.fail(fmt.Errorf("%w: recv: %v", ErrCameraClosed, err))
			return
		}

		frame, ok := decodeFrame(msg)
		if !ok {
			if n := c.decodeFailures.Add(1); n%uint64(logEvery) == 1 || logEvery == 1 {
				logger.Warn("skipping undecodable camera message",
					slog.Int("size", len(msg)),
					slog.Uint64("failures", n),
				)
			}
			continue
		}
		c.publish(frame)
	}
}

// publish replaces any frame not yet consumed. Only the receive task sends.
func (c *ZMQCamera) publish(frame []byte) {
	select {
	case c.frames <- frame:
	default:
		select {
		case <-c.frames:
		default:
		}
		c.frames <- frame
	}
}

func (c *ZMQCamera) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *ZMQCamera) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		c.errMu.Lock()
		defer c.errMu.Unlock()
		return nil, c.err
	}
}

func (c *ZMQCamera) Close() error {
	c.cancel()
	<-c.done
	return nil
}

// DecodeFailures returns the number of messages that were not frames.
func (c *ZMQCamera) DecodeFailures() uint64 {
	return c.decodeFailures.Load()
}

func decodeFrame(msg []byte) ([]byte, bool) {
	if len(msg) == 0 {
		return nil, false
	}
	if bytes.HasPrefix(msg, jpegMagic) {
		return msg, true
	}
	var env FrameEnvelope
	if err := cbor.Unmarshal(msg, &env); err != nil {
		return nil, false
	}
	if env.Type != "image" || len(env.Data) == 0 {
		return nil, false
	}
	return env.Data, true
}
