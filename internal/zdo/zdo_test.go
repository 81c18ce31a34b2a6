package zdo

import (
	"bytes"
	"reflect"
	"testing"
)

func TestNodeDescriptorRoundTrip(t *testing.T) {
	nd := &NodeDescriptor{
		LogicalType:          LogicalRouter,
		ComplexDescAvailable: false,
		UserDescAvailable:    true,
		FrequencyBand:        0x08,
		MACCapabilityFlags:   0x8E,
		ManufacturerCode:     4476,
		MaxBufferSize:        82,
		MaxIncomingTransfer:  82,
		ServerMask:           0x2C00,
		MaxOutgoingTransfer:  82,
		DescriptorCapability: 0x00,
	}
	wire := nd.Marshal()
	if len(wire) != 13 {
		t.Fatalf("node descriptor is %d bytes, want 13", len(wire))
	}
	decoded, n, err := UnmarshalNodeDescriptor(wire)
	if err != nil {
		t.Fatalf("UnmarshalNodeDescriptor: %v", err)
	}
	if n != 13 || !reflect.DeepEqual(decoded, nd) {
		t.Errorf("round-trip = %+v (%d bytes)", decoded, n)
	}
}

func TestSimpleDescriptorRoundTrip(t *testing.T) {
	sd := &SimpleDescriptor{
		Endpoint:    1,
		ProfileID:   0x0104,
		DeviceType:  266,
		InClusters:  []uint16{0, 3, 4, 5, 6, 8, 4096},
		OutClusters: []uint16{25},
	}
	wire := sd.Marshal()
	decoded, n, err := UnmarshalSimpleDescriptor(wire)
	if err != nil {
		t.Fatalf("UnmarshalSimpleDescriptor: %v", err)
	}
	if n != len(wire) || !reflect.DeepEqual(decoded, sd) {
		t.Errorf("round-trip = %+v (%d bytes)", decoded, n)
	}
}

func TestActiveEPResponseRoundTrip(t *testing.T) {
	wire := EncodeActiveEPResponse(StatusSuccess, 0x1234, []uint8{1, 242})
	status, nwk, endpoints, err := DecodeActiveEPResponse(wire)
	if err != nil {
		t.Fatalf("DecodeActiveEPResponse: %v", err)
	}
	if status != StatusSuccess || nwk != 0x1234 || !bytes.Equal(endpoints, []uint8{1, 242}) {
		t.Errorf("decoded = (0x%02X, 0x%04X, %v)", status, nwk, endpoints)
	}
}

func TestNodeDescResponse(t *testing.T) {
	nd := &NodeDescriptor{LogicalType: LogicalEndDevice, ManufacturerCode: 4476}
	payload := append([]byte{StatusSuccess, 0x34, 0x12}, nd.Marshal()...)
	status, nwk, decoded, err := DecodeNodeDescResponse(payload)
	if err != nil {
		t.Fatalf("DecodeNodeDescResponse: %v", err)
	}
	if status != StatusSuccess || nwk != 0x1234 || decoded.ManufacturerCode != 4476 {
		t.Errorf("decoded = (0x%02X, 0x%04X, %+v)", status, nwk, decoded)
	}

	// A failed response carries no descriptor.
	status, _, decoded, err = DecodeNodeDescResponse([]byte{StatusDeviceNotFound, 0x34, 0x12})
	if err != nil || status != StatusDeviceNotFound || decoded != nil {
		t.Errorf("failure decode = (0x%02X, %+v, %v)", status, decoded, err)
	}
}

func TestDeviceAnnounceRoundTrip(t *testing.T) {
	da := &DeviceAnnounce{
		NWK:        0x5678,
		IEEE:       [8]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77},
		Capability: 0x8E,
	}
	decoded, err := UnmarshalDeviceAnnounce(da.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalDeviceAnnounce: %v", err)
	}
	if !reflect.DeepEqual(decoded, da) {
		t.Errorf("round-trip = %+v", decoded)
	}
}

func TestMgmtLqiRoundTrip(t *testing.T) {
	neighbors := []Neighbor{
		{
			ExtendedPanID: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
			IEEE:          [8]byte{8, 7, 6, 5, 4, 3, 2, 1},
			NWK:           0x9A00,
			DeviceType:    1,
			RxOnWhenIdle:  1,
			Relationship:  2,
			PermitJoining: 0,
			Depth:         3,
			LQI:           200,
		},
	}
	wire := EncodeMgmtLqiResponse(StatusSuccess, 1, 0, neighbors)
	status, total, start, decoded, err := DecodeMgmtLqiResponse(wire)
	if err != nil {
		t.Fatalf("DecodeMgmtLqiResponse: %v", err)
	}
	if status != StatusSuccess || total != 1 || start != 0 {
		t.Errorf("header = (0x%02X, %d, %d)", status, total, start)
	}
	if !reflect.DeepEqual(decoded, neighbors) {
		t.Errorf("round-trip = %+v", decoded)
	}
}

func TestMgmtRtgRoundTrip(t *testing.T) {
	routes := []Route{
		{DstNWK: 0x1234, RouteStatus: 0, ManyToOne: true, NextHop: 0x0000},
		{DstNWK: 0x5678, RouteStatus: 3, MemoryConstrained: true, RouteRecordRequired: true, NextHop: 0x9ABC},
	}
	wire := EncodeMgmtRtgResponse(StatusSuccess, 2, 0, routes)
	status, total, _, decoded, err := DecodeMgmtRtgResponse(wire)
	if err != nil {
		t.Fatalf("DecodeMgmtRtgResponse: %v", err)
	}
	if status != StatusSuccess || total != 2 {
		t.Errorf("header = (0x%02X, %d)", status, total)
	}
	if !reflect.DeepEqual(decoded, routes) {
		t.Errorf("round-trip = %+v", decoded)
	}
}

func TestMgmtLeavePayload(t *testing.T) {
	ieee := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	wire := EncodeMgmtLeave(ieee, true, false)
	if len(wire) != 9 {
		t.Fatalf("mgmt leave is %d bytes, want 9", len(wire))
	}
	if wire[8] != 0x80 {
		t.Errorf("flags = 0x%02X, want rejoin bit", wire[8])
	}
}

func TestBindMarshal(t *testing.T) {
	b := &Bind{
		SrcIEEE:     [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		SrcEP:       1,
		ClusterID:   0x0006,
		DstAddrMode: AddrModeIEEE,
		DstIEEE:     [8]byte{8, 7, 6, 5, 4, 3, 2, 1},
		DstEP:       1,
	}
	wire := b.Marshal()
	if len(wire) != 21 {
		t.Fatalf("ieee-mode bind is %d bytes, want 21", len(wire))
	}

	b.DstAddrMode = AddrModeGroup
	b.DstGroup = 0x0010
	wire = b.Marshal()
	if len(wire) != 14 {
		t.Fatalf("group-mode bind is %d bytes, want 14", len(wire))
	}
}

func TestResponseCluster(t *testing.T) {
	if got := ResponseCluster(NodeDescReq); got != 0x8002 {
		t.Errorf("ResponseCluster(NodeDescReq) = 0x%04X", got)
	}
}
