package zdo

import (
	"encoding/binary"
	"fmt"

	"zigbee-appd/internal/zcl"
)

// Neighbor is one Mgmt_Lqi_rsp neighbor table entry.
type Neighbor struct {
	ExtendedPanID [8]byte
	IEEE          [8]byte
	NWK           uint16
	DeviceType    uint8 // 0 coordinator, 1 router, 2 end device, 3 unknown
	RxOnWhenIdle  uint8 // 0 off, 1 on, 2 unknown
	Relationship  uint8 // 0 parent, 1 child, 2 sibling, 3 none, 4 previous child
	PermitJoining uint8
	Depth         uint8
	LQI           uint8
}

// Route is one Mgmt_Rtg_rsp routing table entry.
type Route struct {
	DstNWK              uint16
	RouteStatus         uint8 // 0 active, 1 discovery underway, 2 discovery failed, 3 inactive
	MemoryConstrained   bool
	ManyToOne           bool
	RouteRecordRequired bool
	NextHop             uint16
}

func (n *Neighbor) marshal() []byte {
	out := make([]byte, 0, 22)
	out = append(out, n.ExtendedPanID[:]...)
	out = append(out, n.IEEE[:]...)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], n.NWK)
	out = append(out, b[:]...)
	out = append(out, n.DeviceType&0x03|n.RxOnWhenIdle<<2&0x0C|n.Relationship<<4&0x70)
	out = append(out, n.PermitJoining&0x03)
	out = append(out, n.Depth, n.LQI)
	return out
}

func unmarshalNeighbor(data []byte) (*Neighbor, int, error) {
	if len(data) < 22 {
		return nil, 0, fmt.Errorf("neighbor entry: %w", zcl.ErrBufferTooShort)
	}
	n := &Neighbor{}
	copy(n.ExtendedPanID[:], data[:8])
	copy(n.IEEE[:], data[8:16])
	n.NWK = binary.LittleEndian.Uint16(data[16:18])
	n.DeviceType = data[18] & 0x03
	n.RxOnWhenIdle = data[18] >> 2 & 0x03
	n.Relationship = data[18] >> 4 & 0x07
	n.PermitJoining = data[19] & 0x03
	n.Depth = data[20]
	n.LQI = data[21]
	return n, 22, nil
}

// EncodeMgmtLqiReq packs a Mgmt_Lqi_req payload.
func EncodeMgmtLqiReq(startIndex uint8) []byte {
	return []byte{startIndex}
}

// DecodeMgmtLqiResponse parses a Mgmt_Lqi_rsp payload.
func DecodeMgmtLqiResponse(data []byte) (status uint8, total uint8, startIndex uint8, neighbors []Neighbor, err error) {
	if len(data) < 1 {
		return 0, 0, 0, nil, fmt.Errorf("mgmt lqi response: %w", zcl.ErrBufferTooShort)
	}
	status = data[0]
	if status != StatusSuccess {
		return status, 0, 0, nil, nil
	}
	if len(data) < 4 {
		return 0, 0, 0, nil, fmt.Errorf("mgmt lqi header: %w", zcl.ErrBufferTooShort)
	}
	total, startIndex = data[1], data[2]
	count := int(data[3])
	rest := data[4:]
	for i := 0; i < count; i++ {
		n, used, err := unmarshalNeighbor(rest)
		if err != nil {
			return 0, 0, 0, nil, fmt.Errorf("neighbor %d: %w", i, err)
		}
		neighbors = append(neighbors, *n)
		rest = rest[used:]
	}
	return status, total, startIndex, neighbors, nil
}

// EncodeMgmtLqiResponse packs a Mgmt_Lqi_rsp payload.
func EncodeMgmtLqiResponse(status, total, startIndex uint8, neighbors []Neighbor) []byte {
	out := []byte{status, total, startIndex, uint8(len(neighbors))}
	for i := range neighbors {
		out = append(out, neighbors[i].marshal()...)
	}
	return out
}

func (r *Route) marshal() []byte {
	out := make([]byte, 5)
	binary.LittleEndian.PutUint16(out[:2], r.DstNWK)
	flags := r.RouteStatus & 0x07
	if r.MemoryConstrained {
		flags |= 0x08
	}
	if r.ManyToOne {
		flags |= 0x10
	}
	if r.RouteRecordRequired {
		flags |= 0x20
	}
	out[2] = flags
	binary.LittleEndian.PutUint16(out[3:5], r.NextHop)
	return out
}

func unmarshalRoute(data []byte) (*Route, int, error) {
	if len(data) < 5 {
		return nil, 0, fmt.Errorf("route entry: %w", zcl.ErrBufferTooShort)
	}
	r := &Route{
		DstNWK:              binary.LittleEndian.Uint16(data[:2]),
		RouteStatus:         data[2] & 0x07,
		MemoryConstrained:   data[2]&0x08 != 0,
		ManyToOne:           data[2]&0x10 != 0,
		RouteRecordRequired: data[2]&0x20 != 0,
		NextHop:             binary.LittleEndian.Uint16(data[3:5]),
	}
	return r, 5, nil
}

// EncodeMgmtRtgReq packs a Mgmt_Rtg_req payload.
func EncodeMgmtRtgReq(startIndex uint8) []byte {
	return []byte{startIndex}
}

// DecodeMgmtRtgResponse parses a Mgmt_Rtg_rsp payload.
func DecodeMgmtRtgResponse(data []byte) (status uint8, total uint8, startIndex uint8, routes []Route, err error) {
	if len(data) < 1 {
		return 0, 0, 0, nil, fmt.Errorf("mgmt rtg response: %w", zcl.ErrBufferTooShort)
	}
	status = data[0]
	if status != StatusSuccess {
		return status, 0, 0, nil, nil
	}
	if len(data) < 4 {
		return 0, 0, 0, nil, fmt.Errorf("mgmt rtg header: %w", zcl.ErrBufferTooShort)
	}
	total, startIndex = data[1], data[2]
	count := int(data[3])
	rest := data[4:]
	for i := 0; i < count; i++ {
		r, used, err := unmarshalRoute(rest)
		if err != nil {
			return 0, 0, 0, nil, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, *r)
		rest = rest[used:]
	}
	return status, total, startIndex, routes, nil
}

// EncodeMgmtRtgResponse packs a Mgmt_Rtg_rsp payload.
func EncodeMgmtRtgResponse(status, total, startIndex uint8, routes []Route) []byte {
	out := []byte{status, total, startIndex, uint8(len(routes))}
	for i := range routes {
		out = append(out, routes[i].marshal()...)
	}
	return out
}

// EncodeMgmtNWKUpdate packs a Mgmt_NWK_Update_req payload: a channel mask,
// scan duration (0xFE = channel change, 0xFF = attribute change) and the
// fields that duration selects.
func EncodeMgmtNWKUpdate(channelMask uint32, scanDuration, scanCount, updateID uint8, manager uint16) []byte {
	out := make([]byte, 5, 9)
	binary.LittleEndian.PutUint32(out[:4], channelMask)
	out[4] = scanDuration
	switch {
	case scanDuration <= 0x05:
		out = append(out, scanCount)
	case scanDuration == 0xFE:
		out = append(out, updateID)
	case scanDuration == 0xFF:
		out = append(out, updateID)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], manager)
		out = append(out, b[:]...)
	}
	return out
}
