// Package radio defines the interface between the application core and a
// concrete radio driver. Drivers own UART framing and vendor command sets;
// the core hands them fully-encoded APS frames and receives parsed packets
// back.
package radio

import "context"

// EUI64 is the permanent 64-bit IEEE address.
type EUI64 [8]byte

// Packet is an inbound APS frame with its addressing metadata.
type Packet struct {
	SrcNWK    uint16
	SrcIEEE   EUI64 // zero when the driver only knows the short address
	SrcEP     uint8
	DstEP     uint8
	ProfileID uint16
	ClusterID uint16
	Data      []byte
	Sequence  uint8
	LQI       uint8
	RSSI      int8
}

// DeviceConfig is the serial-port portion of the configuration, forwarded
// verbatim to the driver.
type DeviceConfig struct {
	Path        string
	Baudrate    int
	FlowControl string
}

// NetworkInfo carries the parameters written back into the radio on
// restore.
type NetworkInfo struct {
	ExtendedPanID EUI64
	PanID         uint16
	NWKUpdateID   uint8
	NWKManagerID  uint16
	Channel       uint8
	ChannelMask   uint32
	SecurityLevel uint8
	NetworkKey    KeyInfo
	TCLinkKey     KeyInfo
}

// KeyInfo is a network or link key with its frame counters.
type KeyInfo struct {
	Key         [16]byte
	Seq         uint8
	PartnerIEEE EUI64
	RxCounter   uint32
	TxCounter   uint32
}

// NodeInfo describes the coordinator itself.
type NodeInfo struct {
	IEEE        EUI64
	NWK         uint16
	LogicalType uint8
}

// Handler is implemented by the application controller; the driver calls
// it from its receive loop.
type Handler interface {
	PacketReceived(pkt Packet)
	HandleJoin(nwk uint16, ieee EUI64, parentNWK uint16)
	HandleLeave(nwk uint16, ieee EUI64)
	HandleRelaysUpdated(ieee EUI64, relays []uint16)
}

// Radio is the narrow driver interface the core consumes.
type Radio interface {
	// Probe reports whether a radio answers on the configured port.
	Probe(ctx context.Context, cfg DeviceConfig) bool
	// Startup brings the network up, forming it when autoForm is set.
	Startup(ctx context.Context, autoForm bool) error
	Shutdown(ctx context.Context) error

	// SetHandler registers the core's callback sink. Must be called
	// before Startup.
	SetHandler(h Handler)

	// ForceRemove evicts a device from the radio's tables.
	ForceRemove(ctx context.Context, ieee EUI64) error
	// PermitNCP opens the coordinator itself for joining.
	PermitNCP(ctx context.Context, duration uint8) error
	// PermitWithKey opens joining for a specific node with an install
	// code derived key.
	PermitWithKey(ctx context.Context, node EUI64, key []byte, duration uint8) error

	// Request sends a unicast APS frame. The returned error reports
	// delivery failure at the MAC/NWK level only.
	Request(ctx context.Context, nwk uint16, ieee EUI64, profile, cluster uint16, srcEP, dstEP, sequence uint8, data []byte) error
	// Broadcast sends to a broadcast address.
	Broadcast(ctx context.Context, profile, cluster uint16, srcEP, dstEP uint8, grpID, radius uint16, sequence uint8, data []byte, address uint16) error
	// MRequest sends a group multicast.
	MRequest(ctx context.Context, group uint16, profile, cluster uint16, srcEP, sequence uint8, data []byte) error

	// State accessors.
	NodeInfo() NodeInfo
	NetworkInfo() NetworkInfo
	// WriteNetworkInfo reprograms the radio during restore.
	WriteNetworkInfo(ctx context.Context, network NetworkInfo, node NodeInfo) error
}

// Broadcast addresses.
const (
	BroadcastAll          uint16 = 0xFFFF
	BroadcastRxOnWhenIdle uint16 = 0xFFFD
	BroadcastRoutersCoord uint16 = 0xFFFC
	BroadcastLowPower     uint16 = 0xFFFB
)
