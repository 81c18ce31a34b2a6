package zcl

import (
	"reflect"
	"testing"
)

func TestReadAttributesRoundTrip(t *testing.T) {
	ids := []uint16{0x0004, 0x0005, 0x4000}
	decoded, err := DecodeReadAttributes(EncodeReadAttributes(ids))
	if err != nil {
		t.Fatalf("DecodeReadAttributes: %v", err)
	}
	if !reflect.DeepEqual(decoded, ids) {
		t.Errorf("round-trip = %v, want %v", decoded, ids)
	}
}

func TestReadAttributesResponseRoundTrip(t *testing.T) {
	records := []ReadAttributeRecord{
		{AttrID: 0x0004, Status: StatusSuccess, Value: TypeValue{Type: TypeCharStr, Value: "IKEA of Sweden"}},
		{AttrID: 0x0005, Status: StatusSuccess, Value: TypeValue{Type: TypeCharStr, Value: "TRADFRI control outlet"}},
		{AttrID: 0x0099, Status: StatusUnsupportedAttr},
	}
	wire, err := EncodeReadAttributesResponse(records)
	if err != nil {
		t.Fatalf("EncodeReadAttributesResponse: %v", err)
	}
	decoded, err := DecodeReadAttributesResponse(wire)
	if err != nil {
		t.Fatalf("DecodeReadAttributesResponse: %v", err)
	}
	if !reflect.DeepEqual(decoded, records) {
		t.Errorf("round-trip = %#v", decoded)
	}
}

func TestWriteAttributesRoundTrip(t *testing.T) {
	records := []WriteAttributeRecord{
		{AttrID: 0x0010, Value: TypeValue{Type: TypeCharStr, Value: "hallway"}},
		{AttrID: 0x0012, Value: TypeValue{Type: TypeBool, Value: true}},
	}
	wire, err := EncodeWriteAttributes(records)
	if err != nil {
		t.Fatalf("EncodeWriteAttributes: %v", err)
	}
	decoded, err := DecodeWriteAttributes(wire)
	if err != nil {
		t.Fatalf("DecodeWriteAttributes: %v", err)
	}
	if !reflect.DeepEqual(decoded, records) {
		t.Errorf("round-trip = %#v", decoded)
	}
}

func TestWriteAttributesResponse(t *testing.T) {
	// Fully successful write: single success byte, no attribute records.
	wire := EncodeWriteAttributesResponse(nil)
	if len(wire) != 1 || wire[0] != StatusSuccess {
		t.Fatalf("success response = % X", wire)
	}
	decoded, err := DecodeWriteAttributesResponse(wire)
	if err != nil || decoded != nil {
		t.Fatalf("decode success = (%v, %v)", decoded, err)
	}

	statuses := []WriteAttributeStatus{{Status: StatusReadOnly, AttrID: 0x0000}}
	decoded, err = DecodeWriteAttributesResponse(EncodeWriteAttributesResponse(statuses))
	if err != nil {
		t.Fatalf("DecodeWriteAttributesResponse: %v", err)
	}
	if !reflect.DeepEqual(decoded, statuses) {
		t.Errorf("round-trip = %#v", decoded)
	}
}

func TestConfigureReportingRoundTrip(t *testing.T) {
	configs := []ReportingConfig{
		{
			Direction:        0,
			AttrID:           0x0000,
			DataType:         TypeInt16,
			MinInterval:      10,
			MaxInterval:      3600,
			ReportableChange: TypeValue{Type: TypeInt16, Value: int16(50)},
		},
		{
			Direction:   0,
			AttrID:      0x0001,
			DataType:    TypeBool, // discrete: no reportable change field
			MinInterval: 0,
			MaxInterval: 300,
		},
		{Direction: 1, AttrID: 0x0002, TimeoutPeriod: 120},
	}
	wire, err := EncodeConfigureReporting(configs)
	if err != nil {
		t.Fatalf("EncodeConfigureReporting: %v", err)
	}
	decoded, err := DecodeConfigureReporting(wire)
	if err != nil {
		t.Fatalf("DecodeConfigureReporting: %v", err)
	}
	if !reflect.DeepEqual(decoded, configs) {
		t.Errorf("round-trip = %#v, want %#v", decoded, configs)
	}
}

func TestClusterCommandSchemaRoundTrip(t *testing.T) {
	def := &ClusterDef{
		ID:   0x0008,
		Name: "Level Control",
		Commands: []CommandDef{
			{ID: 0x00, Name: "MoveToLevel", Direction: DirectionToServer, Params: []uint8{TypeUint8, TypeUint16}},
		},
	}
	params := []interface{}{uint8(128), uint16(10)}
	wire, err := def.EncodeCommand(0x00, DirectionToServer, params)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	decoded, err := def.DecodeCommand(0x00, DirectionToServer, wire)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if !reflect.DeepEqual(decoded, params) {
		t.Errorf("round-trip = %#v, want %#v", decoded, params)
	}
}

func TestDiscoverAttributes(t *testing.T) {
	wire := EncodeDiscoverAttributes(DiscoverAttributesCommand{StartAttrID: 0x0000, MaxCount: 16})
	if len(wire) != 3 || wire[2] != 16 {
		t.Fatalf("EncodeDiscoverAttributes = % X", wire)
	}
	complete, attrs, err := DecodeDiscoverAttributesResponse([]byte{0x01, 0x00, 0x00, TypeBool, 0x21, 0x00, TypeUint8})
	if err != nil {
		t.Fatalf("DecodeDiscoverAttributesResponse: %v", err)
	}
	if !complete || len(attrs) != 2 || attrs[1].AttrID != 0x0021 || attrs[1].DataType != TypeUint8 {
		t.Errorf("decoded = (%v, %#v)", complete, attrs)
	}
}
