package divert

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// openFlags is or'ed into the flags of every Open, it holds a Flag.
var openFlags atomic.Uint64

// Handle is an open WinDivert handle. All methods are safe for concurrent
// use; Close unblocks pending receives and waits for every in flight call
// before the native handle is released.
type Handle struct {
	lib native
	sh  *SharedHandle

	layer    Layer
	priority int16
	flags    Flag
}

// Open compiles filter and opens a handle on layer with it.
func Open(filter string, layer Layer, priority int16, flags Flag) (*Handle, error) {
	if err := checkPriority(priority); err != nil {
		return nil, err
	}
	obj, err := CompileFilter(filter, layer)
	if err != nil {
		return nil, err
	}
	return OpenFilter(obj, layer, priority, flags)
}

// OpenFilter opens a handle with a filter object returned by CompileFilter.
func OpenFilter(filter []byte, layer Layer, priority int16, flags Flag) (*Handle, error) {
	if len(filter) == 0 {
		return nil, invalidArgument("filter", "empty filter object")
	}
	if err := checkPriority(priority); err != nil {
		return nil, err
	}

	l := lib
	raw, err := l.Open(filter, layer, priority, flags|Flag(openFlags.Load()))
	if err != nil {
		return nil, opError("WinDivertOpen", err)
	}

	h := &Handle{lib: l, layer: layer, priority: priority, flags: flags}
	h.sh = NewSharedHandle(raw, InvalidHandle, h.closeNative)

	logger.WithFields(logrus.Fields{
		"layer":    layer,
		"priority": priority,
		"flags":    flags,
	}).Debug("divert: handle opened")
	return h, nil
}

func checkPriority(priority int16) error {
	if priority > PriorityHighest || priority < PriorityLowest {
		return invalidArgument("priority", "%d out of range [%d, %d]", priority, PriorityLowest, PriorityHighest)
	}
	return nil
}

func (h *Handle) Layer() Layer    { return h.layer }
func (h *Handle) Priority() int16 { return h.priority }
func (h *Handle) Flags() Flag     { return h.flags }

func (h *Handle) acquire() Guard  { return Acquire(h.sh, InvalidHandle) }
func (h *Handle) closing() bool   { return h.sh.Closing() }
func (h *Handle) inflight() int64 { return h.sh.Refs() }

// fail wraps a native failure. A call made without a live handle, or cut
// short by the shutdown Close issues, reports ErrClosed.
func (h *Handle) fail(op string, g *Guard, err error) error {
	if !g.Held() || (h.closing() && errors.Is(err, ErrShutdown{})) {
		err = ErrClosed{}
	}
	return opError(op, err)
}

// RecvBatch receives packets into packets, laid out back to back so they
// can be walked with a PacketEnumerator, and their metadata into addrs. At
// most len(addrs) packets are received when addrs is not empty. It returns
// the number of bytes written and the number of addresses filled.
func (h *Handle) RecvBatch(packets []byte, addrs []Address) (recvLen, n int, err error) {
	if len(addrs) > BatchMax {
		return 0, 0, invalidArgument("addrs", "batch size %d exceeds %d", len(addrs), BatchMax)
	}

	g := h.acquire()
	defer g.Release()

	recvLen, n, err = h.lib.RecvEx(g.Raw(), packets, addrs)
	if err != nil {
		return 0, 0, h.fail("WinDivertRecvEx", &g, err)
	}
	return recvLen, n, nil
}

// Recv receives one packet, addr may be nil.
func (h *Handle) Recv(packet []byte, addr *Address) (int, error) {
	var addrs [1]Address
	n, _, err := h.RecvBatch(packet, addrs[:])
	if err != nil {
		return 0, err
	}
	if addr != nil {
		*addr = addrs[0]
	}
	return n, nil
}

// SendBatch injects the packets laid out back to back in packets, addrs[i]
// routes the i-th packet.
func (h *Handle) SendBatch(packets []byte, addrs []Address) (int, error) {
	if count := countPackets(h.lib, packets); count > BatchMax {
		return 0, invalidArgument("packets", "%d packets exceed batch size %d", count, BatchMax)
	} else if len(addrs) < count || len(addrs) == 0 {
		return 0, invalidArgument("addrs", "%d addresses for %d packets", len(addrs), count)
	}

	g := h.acquire()
	defer g.Release()

	n, err := h.lib.SendEx(g.Raw(), packets, addrs)
	if err != nil {
		return 0, h.fail("WinDivertSendEx", &g, err)
	}
	return n, nil
}

func (h *Handle) Send(packet []byte, addr *Address) (int, error) {
	if addr == nil {
		return 0, invalidArgument("addr", "nil address")
	}
	return h.SendBatch(packet, []Address{*addr})
}

func countPackets(l native, b []byte) int {
	w := headerWalker{lib: l, buf: b}
	var count int
	for off, n := 0, len(b); ; count++ {
		r, ok := w.walk(off, n)
		if !ok {
			return count
		}
		if !r.Next.ok {
			return count + 1
		}
		off, n = r.Next.off, r.Next.n
	}
}

func (h *Handle) Shutdown(how Shutdown) error {
	if how < ShutdownRecv || how > ShutdownBoth {
		return invalidArgument("how", "unknown shutdown mode %d", how)
	}

	g := h.acquire()
	defer g.Release()

	if err := h.lib.Shutdown(g.Raw(), how); err != nil {
		return h.fail("WinDivertShutdown", &g, err)
	}
	return nil
}

func (h *Handle) ShutdownRecv() error { return h.Shutdown(ShutdownRecv) }
func (h *Handle) ShutdownSend() error { return h.Shutdown(ShutdownSend) }

func (h *Handle) GetParam(p Param) (uint64, error) {
	if p > VersionMinor {
		return 0, invalidArgument("param", "unknown parameter %d", p)
	}

	g := h.acquire()
	defer g.Release()

	v, err := h.lib.GetParam(g.Raw(), p)
	if err != nil {
		return 0, h.fail("WinDivertGetParam", &g, err)
	}
	return v, nil
}

func (h *Handle) SetParam(p Param, v uint64) error {
	var lo, hi uint64
	switch p {
	case QueueLength:
		lo, hi = QueueLengthMin, QueueLengthMax
	case QueueTime:
		lo, hi = QueueTimeMin, QueueTimeMax
	case QueueSize:
		lo, hi = QueueSizeMin, QueueSizeMax
	default:
		return invalidArgument("param", "parameter %d is read only", p)
	}
	if v < lo || v > hi {
		return invalidArgument("value", "%d out of range [%d, %d]", v, lo, hi)
	}

	g := h.acquire()
	defer g.Release()

	if err := h.lib.SetParam(g.Raw(), p, v); err != nil {
		return h.fail("WinDivertSetParam", &g, err)
	}
	return nil
}

// QueueLength is the maximum number of packets queued for Recv.
func (h *Handle) QueueLength() (uint64, error)  { return h.GetParam(QueueLength) }
func (h *Handle) SetQueueLength(n uint64) error { return h.SetParam(QueueLength, n) }

// QueueTime is how long a packet may stay queued before it is dropped.
func (h *Handle) QueueTime() (time.Duration, error) {
	ms, err := h.GetParam(QueueTime)
	return time.Duration(ms) * time.Millisecond, err
}

func (h *Handle) SetQueueTime(d time.Duration) error {
	return h.SetParam(QueueTime, uint64(d/time.Millisecond))
}

// QueueSize is the maximum number of bytes queued for Recv.
func (h *Handle) QueueSize() (uint64, error)  { return h.GetParam(QueueSize) }
func (h *Handle) SetQueueSize(n uint64) error { return h.SetParam(QueueSize, n) }

// Version reports the version of the loaded driver.
func (h *Handle) Version() (major, minor uint64, err error) {
	if major, err = h.GetParam(VersionMajor); err != nil {
		return 0, 0, err
	}
	if minor, err = h.GetParam(VersionMinor); err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

// Close releases the handle. Pending receives are shut down and the native
// handle is closed once the last in flight call returned. Only the first
// Close reports the result of the native close, later calls get ErrClosed.
func (h *Handle) Close() error {
	g := h.acquire()
	if !h.sh.Close() {
		g.Release()
		return errors.WithStack(ErrClosed{})
	}

	if g.Held() && h.inflight() > 1 {
		logger.WithField("inflight", h.inflight()-1).Debug("divert: close deferred, shutting down pending calls")
		if err := h.lib.Shutdown(g.Raw(), ShutdownBoth); err != nil {
			logger.WithError(err).Debug("divert: shutdown on close")
		}
	}
	g.Release()

	<-h.sh.Done()
	if err := h.sh.Err(); err != nil {
		return opError("WinDivertClose", err)
	}
	return nil
}

func (h *Handle) closeNative(raw uintptr) error {
	err := h.lib.Close(raw)
	if err != nil {
		logger.WithError(err).Warn("divert: native close failed")
	} else {
		logger.WithField("layer", h.layer).Debug("divert: handle closed")
	}
	return err
}
