package zcl

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Header: Header{
			FrameType: FrameTypeCluster,
			Direction: DirectionClientToServer,
			TSN:       0x42,
			CommandID: 0x01,
		},
		Payload: []byte{0xAA, 0xBB},
	}
	wire := f.Marshal()
	want := []byte{0x01, 0x42, 0x01, 0xAA, 0xBB}
	if !bytes.Equal(wire, want) {
		t.Fatalf("Marshal = % X, want % X", wire, want)
	}

	parsed, err := UnmarshalFrame(wire)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if parsed.Header != f.Header || !bytes.Equal(parsed.Payload, f.Payload) {
		t.Errorf("round-trip = %+v", parsed)
	}
}

func TestFrameManufacturerSpecific(t *testing.T) {
	f := &Frame{
		Header: Header{
			FrameType:       FrameTypeCluster,
			Manufacturer:    0x117C,
			ManufacturerSet: true,
			Direction:       DirectionServerToClient,
			TSN:             7,
			CommandID:       0x02,
		},
	}
	wire := f.Marshal()
	// frame control: cluster | manufacturer-specific | direction
	if wire[0] != 0x01|0x04|0x08 {
		t.Fatalf("frame control = 0x%02X", wire[0])
	}
	parsed, err := UnmarshalFrame(wire)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if !parsed.Header.ManufacturerSet || parsed.Header.Manufacturer != 0x117C {
		t.Errorf("manufacturer = %+v", parsed.Header)
	}
}

func TestFrameTooShort(t *testing.T) {
	for _, data := range [][]byte{nil, {0x00}, {0x00, 0x01}, {0x04, 0x7C, 0x11, 0x01}} {
		if _, err := UnmarshalFrame(data); !errors.Is(err, ErrBufferTooShort) {
			t.Errorf("UnmarshalFrame(% X) err = %v, want ErrBufferTooShort", data, err)
		}
	}
}

func TestNeedsDefaultResponse(t *testing.T) {
	request := &Frame{Header: Header{FrameType: FrameTypeCluster, TSN: 9, CommandID: 0x00}}
	if !request.NeedsDefaultResponse() {
		t.Error("request with DDR=0 should need a default response")
	}

	request.Header.DisableDefaultResp = true
	if request.NeedsDefaultResponse() {
		t.Error("request with DDR=1 must not need a default response")
	}

	dr := &Frame{Header: Header{FrameType: FrameTypeGlobal, CommandID: CmdDefaultResponse}}
	if dr.NeedsDefaultResponse() {
		t.Error("a default response never triggers another default response")
	}
}

func TestDefaultResponseFrameEchoesTSN(t *testing.T) {
	request := &Frame{Header: Header{FrameType: FrameTypeCluster, TSN: 0x55, CommandID: 0x06}}
	dr := request.DefaultResponseFrame(StatusSuccess)
	if dr.Header.TSN != 0x55 {
		t.Errorf("TSN = 0x%02X, want 0x55", dr.Header.TSN)
	}
	if dr.Header.CommandID != CmdDefaultResponse || dr.Header.FrameType != FrameTypeGlobal {
		t.Errorf("header = %+v", dr.Header)
	}
	if !dr.Header.DisableDefaultResp {
		t.Error("default response must set DDR")
	}
	if !bytes.Equal(dr.Payload, []byte{0x06, StatusSuccess}) {
		t.Errorf("payload = % X", dr.Payload)
	}
}
