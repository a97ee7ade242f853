package divert

import "strconv"

// InvalidHandle is the sentinel raw value handed to native calls when no
// live handle is available (INVALID_HANDLE_VALUE).
const InvalidHandle = ^uintptr(0)

const (
	PriorityHighest int16 = 30000
	PriorityLowest  int16 = -PriorityHighest

	BatchMax = 0xff        // max packets per RecvBatch/SendBatch
	MTUMax   = 40 + 0xffff // max size of one packet, IPv6 header included
)

// Queue parameter limits, see Handle.SetParam.
const (
	QueueLengthDefault uint64 = 4096
	QueueLengthMin     uint64 = 32
	QueueLengthMax     uint64 = 16384

	QueueTimeDefault uint64 = 2000 // ms
	QueueTimeMin     uint64 = 100
	QueueTimeMax     uint64 = 16000

	QueueSizeDefault uint64 = 4194304 // bytes
	QueueSizeMin     uint64 = 65535
	QueueSizeMax     uint64 = 33554432
)

type Layer uint8

const (
	Network        Layer = iota // Network layer.
	NetworkForward              // Network layer (forwarded packets)
	Flow                        // Flow layer.
	Socket                      // Socket layer.
	Reflect                     // Reflect layer.
)

func (l Layer) String() string {
	switch l {
	case Network:
		return "network"
	case NetworkForward:
		return "network-forward"
	case Flow:
		return "flow"
	case Socket:
		return "socket"
	case Reflect:
		return "reflect"
	default:
		return "layer(" + strconv.Itoa(int(l)) + ")"
	}
}

type Flag uint64

const (
	Sniff     Flag = 0x0001 // copy data, like pcap
	Drop      Flag = 0x0002
	RecvOnly  Flag = 0x0004
	ReadOnly  Flag = RecvOnly
	SendOnly  Flag = 0x0008
	WriteOnly Flag = SendOnly
	NoInstall Flag = 0x0010
	Fragments Flag = 0x0020
)

type Event uint8

const (
	NetworkPacket   Event = iota /* Network packet. */
	FlowEstablished              /* Flow established. */
	FlowDeleted                  /* Flow deleted. */
	SocketBind                   /* Socket bind. */
	SocketConnect                /* Socket connect. */
	SocketListen                 /* Socket listen. */
	SocketAccept                 /* Socket accept. */
	SocketClose                  /* Socket close. */
	ReflectOpen                  /* WinDivert handle opened. */
	ReflectClose                 /* WinDivert handle closed. */
)

// Split returns the layer and the operation names of the event.
func (e Event) Split() (layer string, op string) {
	switch e {
	case NetworkPacket:
		return "network", "packet"
	case FlowEstablished:
		return "flow", "established"
	case FlowDeleted:
		return "flow", "deleted"
	case SocketBind:
		return "socket", "bind"
	case SocketConnect:
		return "socket", "connect"
	case SocketListen:
		return "socket", "listen"
	case SocketAccept:
		return "socket", "accept"
	case SocketClose:
		return "socket", "close"
	case ReflectOpen:
		return "reflect", "open"
	case ReflectClose:
		return "reflect", "close"
	default:
		return "unknown", "unknown"
	}
}

func (e Event) String() string {
	layer, op := e.Split()
	return layer + "/" + op
}

// Proto is an IP protocol number, as reported by the packet parser.
type Proto uint8

const (
	HopOpts  Proto = 0
	ICMP     Proto = 1
	TCP      Proto = 6
	UDP      Proto = 17
	Routing  Proto = 43
	Fragment Proto = 44
	AH       Proto = 51
	ICMPv6   Proto = 58
	NoNext   Proto = 59
	DstOpts  Proto = 60
)

func (p Proto) String() string {
	switch p {
	case HopOpts:
		return "hopopts"
	case ICMP:
		return "icmp"
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case Routing:
		return "routing"
	case Fragment:
		return "fragment"
	case AH:
		return "ah"
	case ICMPv6:
		return "icmpv6"
	case NoNext:
		return "nonext"
	case DstOpts:
		return "dstopts"
	default:
		return "proto(" + strconv.Itoa(int(p)) + ")"
	}
}

type Param uint32

const (
	QueueLength  Param = iota /* Packet queue length. */
	QueueTime                 /* Packet queue time. */
	QueueSize                 /* Packet queue size. */
	VersionMajor              /* Driver version (major). */
	VersionMinor              /* Driver version (minor). */
)

type Shutdown uint32

const (
	ShutdownRecv Shutdown = iota + 1 /* Shutdown recv. */
	ShutdownSend                     /* Shutdown send. */
	ShutdownBoth                     /* Shutdown recv and send. */
)

// ChecksumFlag selects checksums CalcChecksums leaves untouched.
type ChecksumFlag uint64

const (
	NoIPChecksum     ChecksumFlag = 1
	NoICMPChecksum   ChecksumFlag = 2
	NoICMPv6Checksum ChecksumFlag = 4
	NoTCPChecksum    ChecksumFlag = 8
	NoUDPChecksum    ChecksumFlag = 16
)
