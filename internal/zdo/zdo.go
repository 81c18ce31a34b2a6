// Package zdo encodes and decodes Zigbee Device Object frames: a 1-byte
// transaction sequence number followed by the request- or response-specific
// payload, carried on endpoint 0 of profile 0x0000.
package zdo

import (
	"encoding/binary"
	"fmt"

	"zigbee-appd/internal/zcl"
)

// ZDO cluster ids. Responses are the request id with the high bit set.
const (
	NWKAddrReq        uint16 = 0x0000
	IEEEAddrReq       uint16 = 0x0001
	NodeDescReq       uint16 = 0x0002
	PowerDescReq      uint16 = 0x0003
	SimpleDescReq     uint16 = 0x0004
	ActiveEPReq       uint16 = 0x0005
	MatchDescReq      uint16 = 0x0006
	DeviceAnnce       uint16 = 0x0013
	BindReq           uint16 = 0x0021
	UnbindReq         uint16 = 0x0022
	MgmtLqiReq        uint16 = 0x0031
	MgmtRtgReq        uint16 = 0x0032
	MgmtBindReq       uint16 = 0x0033
	MgmtLeaveReq      uint16 = 0x0034
	MgmtPermitJoinReq uint16 = 0x0036
	MgmtNWKUpdateReq  uint16 = 0x0038
	ResponseBit       uint16 = 0x8000
)

// ZDO status codes.
const (
	StatusSuccess        uint8 = 0x00
	StatusInvRequest     uint8 = 0x80
	StatusDeviceNotFound uint8 = 0x81
	StatusNotSupported   uint8 = 0x84
	StatusTimeout        uint8 = 0x85
	StatusNotPermitted   uint8 = 0x8D
)

// ResponseCluster maps a request cluster to its response cluster.
func ResponseCluster(req uint16) uint16 {
	return req | ResponseBit
}

// Frame is a ZDO frame: TSN plus payload.
type Frame struct {
	TSN     uint8
	Payload []byte
}

// Marshal serializes the frame.
func (f *Frame) Marshal() []byte {
	out := make([]byte, 0, 1+len(f.Payload))
	out = append(out, f.TSN)
	return append(out, f.Payload...)
}

// UnmarshalFrame parses a ZDO frame from raw APS payload bytes.
func UnmarshalFrame(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("zdo frame: %w", zcl.ErrBufferTooShort)
	}
	return &Frame{TSN: data[0], Payload: data[1:]}, nil
}

// LogicalType of a Zigbee node.
type LogicalType uint8

const (
	LogicalCoordinator LogicalType = 0
	LogicalRouter      LogicalType = 1
	LogicalEndDevice   LogicalType = 2
)

// NodeDescriptor is the 13-byte ZDO node descriptor.
type NodeDescriptor struct {
	LogicalType          LogicalType
	ComplexDescAvailable bool
	UserDescAvailable    bool
	APSFlags             uint8
	FrequencyBand        uint8
	MACCapabilityFlags   uint8
	ManufacturerCode     uint16
	MaxBufferSize        uint8
	MaxIncomingTransfer  uint16
	ServerMask           uint16
	MaxOutgoingTransfer  uint16
	DescriptorCapability uint8
}

// Marshal packs the node descriptor.
func (nd *NodeDescriptor) Marshal() []byte {
	out := make([]byte, 13)
	b0 := uint8(nd.LogicalType) & 0x07
	if nd.ComplexDescAvailable {
		b0 |= 0x08
	}
	if nd.UserDescAvailable {
		b0 |= 0x10
	}
	out[0] = b0
	out[1] = nd.APSFlags&0x07 | nd.FrequencyBand<<3
	out[2] = nd.MACCapabilityFlags
	binary.LittleEndian.PutUint16(out[3:5], nd.ManufacturerCode)
	out[5] = nd.MaxBufferSize
	binary.LittleEndian.PutUint16(out[6:8], nd.MaxIncomingTransfer)
	binary.LittleEndian.PutUint16(out[8:10], nd.ServerMask)
	binary.LittleEndian.PutUint16(out[10:12], nd.MaxOutgoingTransfer)
	out[12] = nd.DescriptorCapability
	return out
}

// UnmarshalNodeDescriptor parses a node descriptor, returning bytes
// consumed.
func UnmarshalNodeDescriptor(data []byte) (*NodeDescriptor, int, error) {
	if len(data) < 13 {
		return nil, 0, fmt.Errorf("node descriptor: %w", zcl.ErrBufferTooShort)
	}
	nd := &NodeDescriptor{
		LogicalType:          LogicalType(data[0] & 0x07),
		ComplexDescAvailable: data[0]&0x08 != 0,
		UserDescAvailable:    data[0]&0x10 != 0,
		APSFlags:             data[1] & 0x07,
		FrequencyBand:        data[1] >> 3,
		MACCapabilityFlags:   data[2],
		ManufacturerCode:     binary.LittleEndian.Uint16(data[3:5]),
		MaxBufferSize:        data[5],
		MaxIncomingTransfer:  binary.LittleEndian.Uint16(data[6:8]),
		ServerMask:           binary.LittleEndian.Uint16(data[8:10]),
		MaxOutgoingTransfer:  binary.LittleEndian.Uint16(data[10:12]),
		DescriptorCapability: data[12],
	}
	return nd, 13, nil
}

// SimpleDescriptor describes an endpoint.
type SimpleDescriptor struct {
	Endpoint      uint8
	ProfileID     uint16
	DeviceType    uint16
	DeviceVersion uint8
	InClusters    []uint16
	OutClusters   []uint16
}

// Marshal packs the simple descriptor including its leading length byte.
func (sd *SimpleDescriptor) Marshal() []byte {
	body := make([]byte, 0, 7+2*(len(sd.InClusters)+len(sd.OutClusters)))
	body = append(body, sd.Endpoint)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], sd.ProfileID)
	body = append(body, b[:]...)
	binary.LittleEndian.PutUint16(b[:], sd.DeviceType)
	body = append(body, b[:]...)
	body = append(body, sd.DeviceVersion)
	body = append(body, uint8(len(sd.InClusters)))
	for _, c := range sd.InClusters {
		binary.LittleEndian.PutUint16(b[:], c)
		body = append(body, b[:]...)
	}
	body = append(body, uint8(len(sd.OutClusters)))
	for _, c := range sd.OutClusters {
		binary.LittleEndian.PutUint16(b[:], c)
		body = append(body, b[:]...)
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, uint8(len(body)))
	return append(out, body...)
}

// UnmarshalSimpleDescriptor parses a length-prefixed simple descriptor.
func UnmarshalSimpleDescriptor(data []byte) (*SimpleDescriptor, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("simple descriptor length: %w", zcl.ErrBufferTooShort)
	}
	length := int(data[0])
	if len(data) < 1+length || length < 8 {
		return nil, 0, fmt.Errorf("simple descriptor of %d bytes: %w", length, zcl.ErrBufferTooShort)
	}
	body := data[1 : 1+length]
	sd := &SimpleDescriptor{
		Endpoint:      body[0],
		ProfileID:     binary.LittleEndian.Uint16(body[1:3]),
		DeviceType:    binary.LittleEndian.Uint16(body[3:5]),
		DeviceVersion: body[5],
	}
	inCount := int(body[6])
	idx := 7
	if len(body) < idx+2*inCount+1 {
		return nil, 0, fmt.Errorf("simple descriptor in clusters: %w", zcl.ErrBufferTooShort)
	}
	for i := 0; i < inCount; i++ {
		sd.InClusters = append(sd.InClusters, binary.LittleEndian.Uint16(body[idx:idx+2]))
		idx += 2
	}
	outCount := int(body[idx])
	idx++
	if len(body) < idx+2*outCount {
		return nil, 0, fmt.Errorf("simple descriptor out clusters: %w", zcl.ErrBufferTooShort)
	}
	for i := 0; i < outCount; i++ {
		sd.OutClusters = append(sd.OutClusters, binary.LittleEndian.Uint16(body[idx:idx+2]))
		idx += 2
	}
	return sd, 1 + length, nil
}

// DeviceAnnounce is the ZDO Device_annce indication payload.
type DeviceAnnounce struct {
	NWK        uint16
	IEEE       [8]byte
	Capability uint8
}

// UnmarshalDeviceAnnounce parses a Device_annce payload.
func UnmarshalDeviceAnnounce(data []byte) (*DeviceAnnounce, error) {
	if len(data) < 11 {
		return nil, fmt.Errorf("device announce: %w", zcl.ErrBufferTooShort)
	}
	da := &DeviceAnnounce{NWK: binary.LittleEndian.Uint16(data[:2])}
	copy(da.IEEE[:], data[2:10])
	da.Capability = data[10]
	return da, nil
}

// Marshal packs a Device_annce payload.
func (da *DeviceAnnounce) Marshal() []byte {
	out := make([]byte, 11)
	binary.LittleEndian.PutUint16(out[:2], da.NWK)
	copy(out[2:10], da.IEEE[:])
	out[10] = da.Capability
	return out
}

// EncodeNWKAddress packs the 2-byte network address used by the
// descriptor requests.
func EncodeNWKAddress(nwk uint16) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, nwk)
	return out
}

// EncodeSimpleDescReq packs a Simple_Desc_req payload.
func EncodeSimpleDescReq(nwk uint16, endpoint uint8) []byte {
	out := make([]byte, 3)
	binary.LittleEndian.PutUint16(out[:2], nwk)
	out[2] = endpoint
	return out
}

// DecodeActiveEPResponse parses an Active_EP_rsp payload.
func DecodeActiveEPResponse(data []byte) (status uint8, nwk uint16, endpoints []uint8, err error) {
	if len(data) < 3 {
		return 0, 0, nil, fmt.Errorf("active endpoints response: %w", zcl.ErrBufferTooShort)
	}
	status = data[0]
	nwk = binary.LittleEndian.Uint16(data[1:3])
	if status != StatusSuccess {
		return status, nwk, nil, nil
	}
	if len(data) < 4 {
		return 0, 0, nil, fmt.Errorf("active endpoints count: %w", zcl.ErrBufferTooShort)
	}
	count := int(data[3])
	if len(data) < 4+count {
		return 0, 0, nil, fmt.Errorf("active endpoints list: %w", zcl.ErrBufferTooShort)
	}
	return status, nwk, append([]uint8(nil), data[4:4+count]...), nil
}

// EncodeActiveEPResponse packs an Active_EP_rsp payload.
func EncodeActiveEPResponse(status uint8, nwk uint16, endpoints []uint8) []byte {
	out := make([]byte, 0, 4+len(endpoints))
	out = append(out, status)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], nwk)
	out = append(out, b[:]...)
	out = append(out, uint8(len(endpoints)))
	return append(out, endpoints...)
}

// DecodeNodeDescResponse parses a Node_Desc_rsp payload.
func DecodeNodeDescResponse(data []byte) (status uint8, nwk uint16, nd *NodeDescriptor, err error) {
	if len(data) < 3 {
		return 0, 0, nil, fmt.Errorf("node descriptor response: %w", zcl.ErrBufferTooShort)
	}
	status = data[0]
	nwk = binary.LittleEndian.Uint16(data[1:3])
	if status != StatusSuccess {
		return status, nwk, nil, nil
	}
	nd, _, err = UnmarshalNodeDescriptor(data[3:])
	return status, nwk, nd, err
}

// DecodeSimpleDescResponse parses a Simple_Desc_rsp payload.
func DecodeSimpleDescResponse(data []byte) (status uint8, nwk uint16, sd *SimpleDescriptor, err error) {
	if len(data) < 3 {
		return 0, 0, nil, fmt.Errorf("simple descriptor response: %w", zcl.ErrBufferTooShort)
	}
	status = data[0]
	nwk = binary.LittleEndian.Uint16(data[1:3])
	if status != StatusSuccess {
		return status, nwk, nil, nil
	}
	sd, _, err = UnmarshalSimpleDescriptor(data[3:])
	return status, nwk, sd, err
}

// AddressMode used by bind requests for the destination.
const (
	AddrModeGroup uint8 = 0x01
	AddrModeIEEE  uint8 = 0x03
)

// Bind describes one binding table entry for Bind_req/Unbind_req.
type Bind struct {
	SrcIEEE     [8]byte
	SrcEP       uint8
	ClusterID   uint16
	DstAddrMode uint8
	DstIEEE     [8]byte // AddrModeIEEE
	DstEP       uint8
	DstGroup    uint16 // AddrModeGroup
}

// Marshal packs a Bind_req/Unbind_req payload.
func (b *Bind) Marshal() []byte {
	out := make([]byte, 0, 21)
	out = append(out, b.SrcIEEE[:]...)
	out = append(out, b.SrcEP)
	var w [2]byte
	binary.LittleEndian.PutUint16(w[:], b.ClusterID)
	out = append(out, w[:]...)
	out = append(out, b.DstAddrMode)
	if b.DstAddrMode == AddrModeGroup {
		binary.LittleEndian.PutUint16(w[:], b.DstGroup)
		return append(out, w[:]...)
	}
	out = append(out, b.DstIEEE[:]...)
	return append(out, b.DstEP)
}

// EncodeMgmtPermitJoin packs a Mgmt_Permit_Joining_req payload.
func EncodeMgmtPermitJoin(duration uint8, tcSignificance bool) []byte {
	tc := uint8(0)
	if tcSignificance {
		tc = 1
	}
	return []byte{duration, tc}
}

// EncodeMgmtLeave packs a Mgmt_Leave_req payload.
func EncodeMgmtLeave(ieee [8]byte, rejoin, removeChildren bool) []byte {
	out := make([]byte, 0, 9)
	out = append(out, ieee[:]...)
	var flags uint8
	if rejoin {
		flags |= 0x80
	}
	if removeChildren {
		flags |= 0x40
	}
	return append(out, flags)
}
