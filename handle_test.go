package divert

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var testFilter = []byte("@compiled\x00")

func openMock(t *testing.T) (*mockNative, *Handle) {
	m := &mockNative{}
	useNative(t, m)

	m.On("Open", testFilter, Network, int16(0), Sniff).Return(testRaw, nil).Once()
	h, err := OpenFilter(testFilter, Network, 0, Sniff)
	require.NoError(t, err)
	return m, h
}

func Test_Open(t *testing.T) {
	t.Run("compile/open", func(t *testing.T) {
		m := &mockNative{}
		useNative(t, m)

		m.On("CompileFilter", "udp", Network).Return(testFilter, nil).Once()
		m.On("Open", testFilter, Network, int16(-100), ReadOnly).Return(testRaw, nil).Once()
		m.On("Close", testRaw).Return(nil).Once()

		h, err := Open("udp", Network, -100, ReadOnly)
		require.NoError(t, err)
		require.Equal(t, Network, h.Layer())
		require.Equal(t, int16(-100), h.Priority())
		require.Equal(t, ReadOnly, h.Flags())

		require.NoError(t, h.Close())
		m.AssertExpectations(t)
	})

	t.Run("invalid-filter", func(t *testing.T) {
		m := &mockNative{}
		useNative(t, m)

		m.On("CompileFilter", "udp and", Network).Return(nil, &InvalidFilterError{Msg: "unexpected end", Pos: 7}).Once()

		_, err := Open("udp and", Network, 0, 0)
		var fe *InvalidFilterError
		require.True(t, errors.As(err, &fe), err)
		require.Equal(t, "udp and", fe.Filter)
		require.Equal(t, uint32(7), fe.Pos)
		m.AssertNotCalled(t, "Open", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("priority", func(t *testing.T) {
		m := &mockNative{}
		useNative(t, m)

		for _, p := range []int16{PriorityHighest + 1, PriorityLowest - 1} {
			_, err := Open("true", Network, p, 0)
			var ae *InvalidArgumentError
			require.True(t, errors.As(err, &ae), err)
			require.Equal(t, "priority", ae.Name)
		}
		m.AssertNotCalled(t, "CompileFilter", mock.Anything, mock.Anything)
	})

	t.Run("empty-object", func(t *testing.T) {
		_, err := OpenFilter(nil, Network, 0, 0)
		var ae *InvalidArgumentError
		require.True(t, errors.As(err, &ae), err)
	})

	t.Run("native-failure", func(t *testing.T) {
		m := &mockNative{}
		useNative(t, m)
		m.On("Open", testFilter, Flow, int16(0), Sniff|RecvOnly).Return(InvalidHandle, errors.New("access denied")).Once()

		_, err := OpenFilter(testFilter, Flow, 0, Sniff|RecvOnly)
		var oe *OpError
		require.True(t, errors.As(err, &oe), err)
		require.Equal(t, "WinDivertOpen", oe.Op)
	})

	t.Run("open-flags", func(t *testing.T) {
		m := &mockNative{}
		useNative(t, m)
		openFlags.Store(uint64(NoInstall))
		defer openFlags.Store(0)

		m.On("Open", testFilter, Network, int16(0), Sniff|NoInstall).Return(testRaw, nil).Once()
		m.On("Close", testRaw).Return(nil).Once()

		h, err := OpenFilter(testFilter, Network, 0, Sniff)
		require.NoError(t, err)
		require.Equal(t, Sniff, h.Flags())
		require.NoError(t, h.Close())
		m.AssertExpectations(t)
	})

	t.Run("open-flags/concurrent", func(t *testing.T) {
		m := &mockNative{}
		useNative(t, m)
		defer openFlags.Store(0)

		m.On("Open", testFilter, Network, int16(0), mock.MatchedBy(func(f Flag) bool {
			return f&^NoInstall == Sniff
		})).Return(testRaw, nil)
		m.On("Close", testRaw).Return(nil)

		var eg errgroup.Group
		eg.Go(func() error {
			for i := 0; i < 100; i++ {
				if i%2 == 0 {
					openFlags.Or(uint64(NoInstall))
				} else {
					openFlags.And(^uint64(NoInstall))
				}
			}
			return nil
		})
		for i := 0; i < 4; i++ {
			eg.Go(func() error {
				for j := 0; j < 25; j++ {
					h, err := OpenFilter(testFilter, Network, 0, Sniff)
					if err != nil {
						return err
					}
					if err := h.Close(); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		m.AssertNumberOfCalls(t, "Open", 100)
	})
}

func Test_Handle_Recv(t *testing.T) {
	t.Run("batch", func(t *testing.T) {
		m, h := openMock(t)
		pkts := concat(buildUDP(t, caddr, saddr, []byte("a")), buildTCP(t, saddr, caddr, []byte("b")))

		m.On("RecvEx", testRaw, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			b, addrs := args.Get(1).([]byte), args.Get(2).([]Address)
			copy(b, pkts)
			addrs[0].SetData(NetworkData{IfIdx: 3})
			addrs[1].SetData(NetworkData{IfIdx: 4})
		}).Return(len(pkts), 2, nil).Once()
		m.On("Close", testRaw).Return(nil).Once()

		var (
			b     = make([]byte, MTUMax)
			addrs = make([]Address, 8)
		)
		n, count, err := h.RecvBatch(b, addrs)
		require.NoError(t, err)
		require.Equal(t, len(pkts), n)
		require.Equal(t, 2, count)

		e := NewIndexedPacketEnumerator(b[:n])
		defer e.Close()
		var protos []Proto
		for e.Next() {
			i, r := e.Result()
			protos = append(protos, r.Protocol)
			require.Equal(t, uint32(3+i), addrs[i].Data().(NetworkData).IfIdx)
		}
		require.Equal(t, []Proto{UDP, TCP}, protos)

		require.NoError(t, h.Close())
		m.AssertExpectations(t)
	})

	t.Run("single", func(t *testing.T) {
		m, h := openMock(t)
		m.On("RecvEx", testRaw, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			addrs := args.Get(2).([]Address)
			require.Len(t, addrs, 1)
			addrs[0].Flags.SetOutbound(true)
		}).Return(28, 1, nil).Once()
		m.On("Close", testRaw).Return(nil).Once()

		var addr Address
		n, err := h.Recv(make([]byte, 1536), &addr)
		require.NoError(t, err)
		require.Equal(t, 28, n)
		require.True(t, addr.Flags.Outbound())

		require.NoError(t, h.Close())
	})

	t.Run("batch-too-large", func(t *testing.T) {
		_, h := openMock(t)
		_, _, err := h.RecvBatch(nil, make([]Address, BatchMax+1))
		var ae *InvalidArgumentError
		require.True(t, errors.As(err, &ae), err)
	})

	t.Run("shutdown", func(t *testing.T) {
		m, h := openMock(t)
		m.On("RecvEx", testRaw, mock.Anything, mock.Anything).Return(0, 0, ErrShutdown{}).Once()

		_, err := h.Recv(make([]byte, 1536), nil)
		require.True(t, errors.Is(err, ErrShutdown{}), err)
	})

	t.Run("short-buffer", func(t *testing.T) {
		m, h := openMock(t)
		m.On("RecvEx", testRaw, mock.Anything, mock.Anything).Return(0, 0, io.ErrShortBuffer).Once()

		_, err := h.Recv(make([]byte, 4), nil)
		var oe *OpError
		require.True(t, errors.As(err, &oe), err)
		require.Equal(t, "WinDivertRecvEx", oe.Op)
		require.True(t, errors.Is(err, io.ErrShortBuffer))
	})
}

func Test_Handle_Close(t *testing.T) {
	t.Run("close/close", func(t *testing.T) {
		m, h := openMock(t)
		m.On("Close", testRaw).Return(nil).Once()

		require.NoError(t, h.Close())
		err := h.Close()
		require.True(t, errors.Is(err, ErrClosed{}), err)
		m.AssertNumberOfCalls(t, "Close", 1)
		m.AssertNotCalled(t, "Shutdown", mock.Anything, mock.Anything)
	})

	t.Run("close/error", func(t *testing.T) {
		m, h := openMock(t)
		m.On("Close", testRaw).Return(ErrClosed{}).Once()

		err := h.Close()
		var oe *OpError
		require.True(t, errors.As(err, &oe), err)
		require.Equal(t, "WinDivertClose", oe.Op)
	})

	t.Run("close/recv", func(t *testing.T) {
		m, h := openMock(t)
		m.On("Close", testRaw).Return(nil).Once()
		m.On("RecvEx", InvalidHandle, mock.Anything, mock.Anything).Return(0, 0, errors.New("invalid handle")).Once()
		m.On("SendEx", InvalidHandle, mock.Anything, mock.Anything).Return(0, errors.New("invalid handle")).Once()
		m.On("GetParam", InvalidHandle, QueueLength).Return(uint64(0), errors.New("invalid handle")).Once()

		require.NoError(t, h.Close())

		_, err := h.Recv(make([]byte, 1536), nil)
		require.True(t, errors.Is(err, ErrClosed{}), err)

		_, err = h.Send(buildUDP(t, caddr, saddr, nil), &Address{})
		require.True(t, errors.Is(err, ErrClosed{}), err)

		_, err = h.QueueLength()
		require.True(t, errors.Is(err, ErrClosed{}), err)
		m.AssertExpectations(t)
	})

	t.Run("recv/close", func(t *testing.T) {
		m, h := openMock(t)

		var (
			started  = make(chan struct{})
			unblock  = make(chan struct{})
			returned atomic.Bool
			ordered  atomic.Bool
		)
		m.On("RecvEx", testRaw, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			close(started)
			<-unblock
			returned.Store(true)
		}).Return(0, 0, ErrShutdown{}).Once()
		m.On("Shutdown", testRaw, ShutdownBoth).Run(func(mock.Arguments) {
			close(unblock)
		}).Return(nil).Once()
		m.On("Close", testRaw).Run(func(mock.Arguments) {
			ordered.Store(returned.Load())
		}).Return(nil).Once()

		var eg errgroup.Group
		eg.Go(func() error {
			_, err := h.Recv(make([]byte, 1536), nil)
			if !errors.Is(err, ErrClosed{}) {
				return errors.Errorf("recv after close: %v", err)
			}
			return nil
		})

		<-started
		require.NoError(t, h.Close())
		require.NoError(t, eg.Wait())
		require.True(t, ordered.Load())
		m.AssertExpectations(t)
	})

	t.Run("close/concurrent", func(t *testing.T) {
		m, h := openMock(t)
		m.On("Close", testRaw).After(10*time.Millisecond).Return(nil).Once()
		m.On("Shutdown", testRaw, ShutdownBoth).Return(nil).Maybe()

		var (
			eg     errgroup.Group
			firsts atomic.Int32
		)
		for i := 0; i < 8; i++ {
			eg.Go(func() error {
				err := h.Close()
				if err == nil {
					firsts.Add(1)
				} else if !errors.Is(err, ErrClosed{}) {
					return err
				}
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		require.Equal(t, int32(1), firsts.Load())
		m.AssertNumberOfCalls(t, "Close", 1)
	})
}

func Test_Handle_Send(t *testing.T) {
	t.Run("batch", func(t *testing.T) {
		m, h := openMock(t)
		pkts := concat(buildUDP(t, caddr, saddr, []byte("a")), buildUDP(t, caddr, saddr, []byte("b")))
		addrs := make([]Address, 2)
		m.On("SendEx", testRaw, pkts, addrs).Return(len(pkts), nil).Once()

		n, err := h.SendBatch(pkts, addrs)
		require.NoError(t, err)
		require.Equal(t, len(pkts), n)
	})

	t.Run("too-few-addrs", func(t *testing.T) {
		m, h := openMock(t)
		pkts := concat(buildUDP(t, caddr, saddr, nil), buildUDP(t, caddr, saddr, nil))

		_, err := h.SendBatch(pkts, make([]Address, 1))
		var ae *InvalidArgumentError
		require.True(t, errors.As(err, &ae), err)
		require.Equal(t, "addrs", ae.Name)
		m.AssertNotCalled(t, "SendEx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("nil-addr", func(t *testing.T) {
		_, h := openMock(t)
		_, err := h.Send(buildUDP(t, caddr, saddr, nil), nil)
		var ae *InvalidArgumentError
		require.True(t, errors.As(err, &ae), err)
	})
}

func Test_Handle_Param(t *testing.T) {
	t.Run("queue", func(t *testing.T) {
		m, h := openMock(t)
		m.On("SetParam", testRaw, QueueLength, uint64(8192)).Return(nil).Once()
		m.On("SetParam", testRaw, QueueTime, uint64(500)).Return(nil).Once()
		m.On("GetParam", testRaw, QueueTime).Return(QueueTimeDefault, nil).Once()
		m.On("GetParam", testRaw, QueueSize).Return(QueueSizeDefault, nil).Once()

		require.NoError(t, h.SetQueueLength(8192))
		require.NoError(t, h.SetQueueTime(500*time.Millisecond))

		d, err := h.QueueTime()
		require.NoError(t, err)
		require.Equal(t, 2*time.Second, d)

		size, err := h.QueueSize()
		require.NoError(t, err)
		require.Equal(t, QueueSizeDefault, size)
		m.AssertExpectations(t)
	})

	t.Run("range", func(t *testing.T) {
		m, h := openMock(t)
		for _, c := range []struct {
			p Param
			v uint64
		}{
			{QueueLength, QueueLengthMin - 1},
			{QueueLength, QueueLengthMax + 1},
			{QueueTime, QueueTimeMax + 1},
			{QueueSize, QueueSizeMin - 1},
			{VersionMajor, 2},
		} {
			err := h.SetParam(c.p, c.v)
			var ae *InvalidArgumentError
			require.True(t, errors.As(err, &ae), err)
		}
		m.AssertNotCalled(t, "SetParam", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("version", func(t *testing.T) {
		m, h := openMock(t)
		m.On("GetParam", testRaw, VersionMajor).Return(uint64(2), nil).Once()
		m.On("GetParam", testRaw, VersionMinor).Return(uint64(2), nil).Once()

		major, minor, err := h.Version()
		require.NoError(t, err)
		require.Equal(t, uint64(2), major)
		require.Equal(t, uint64(2), minor)
	})

	t.Run("shutdown", func(t *testing.T) {
		m, h := openMock(t)
		m.On("Shutdown", testRaw, ShutdownRecv).Return(nil).Once()
		m.On("Shutdown", testRaw, ShutdownSend).Return(nil).Once()

		require.NoError(t, h.ShutdownRecv())
		require.NoError(t, h.ShutdownSend())
		var ae *InvalidArgumentError
		require.True(t, errors.As(h.Shutdown(0), &ae))
		m.AssertExpectations(t)
	})
}
