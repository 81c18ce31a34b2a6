package zcl

import (
	"encoding/binary"
	"fmt"
)

// FrameType selects between the global (foundation) command set and a
// cluster's own commands.
type FrameType uint8

const (
	FrameTypeGlobal  FrameType = 0x00
	FrameTypeCluster FrameType = 0x01
)

// Direction of a cluster command on the wire.
type Direction uint8

const (
	DirectionClientToServer Direction = 0
	DirectionServerToClient Direction = 1
)

// Frame control bits.
const (
	fcFrameTypeMask        uint8 = 0x03
	fcManufacturerSpecific uint8 = 0x04
	fcDirection            uint8 = 0x08
	fcDisableDefaultResp   uint8 = 0x10
)

// Header is the ZCL frame header: frame control, optional manufacturer
// code, transaction sequence number and command id.
type Header struct {
	FrameType          FrameType
	Manufacturer       uint16
	ManufacturerSet    bool
	Direction          Direction
	DisableDefaultResp bool
	TSN                uint8
	CommandID          uint8
}

// Frame is a ZCL frame: header plus the raw command payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// Marshal serializes the frame.
func (f *Frame) Marshal() []byte {
	fc := uint8(f.Header.FrameType) & fcFrameTypeMask
	if f.Header.ManufacturerSet {
		fc |= fcManufacturerSpecific
	}
	if f.Header.Direction == DirectionServerToClient {
		fc |= fcDirection
	}
	if f.Header.DisableDefaultResp {
		fc |= fcDisableDefaultResp
	}

	size := 3 + len(f.Payload)
	if f.Header.ManufacturerSet {
		size += 2
	}
	out := make([]byte, 0, size)
	out = append(out, fc)
	if f.Header.ManufacturerSet {
		var m [2]byte
		binary.LittleEndian.PutUint16(m[:], f.Header.Manufacturer)
		out = append(out, m[:]...)
	}
	out = append(out, f.Header.TSN, f.Header.CommandID)
	return append(out, f.Payload...)
}

// UnmarshalFrame parses a ZCL frame from raw APS payload bytes.
func UnmarshalFrame(data []byte) (*Frame, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("zcl frame header: %w", ErrBufferTooShort)
	}
	fc := data[0]
	f := &Frame{
		Header: Header{
			FrameType:          FrameType(fc & fcFrameTypeMask),
			DisableDefaultResp: fc&fcDisableDefaultResp != 0,
		},
	}
	if fc&fcDirection != 0 {
		f.Header.Direction = DirectionServerToClient
	}
	rest := data[1:]
	if fc&fcManufacturerSpecific != 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("zcl manufacturer code: %w", ErrBufferTooShort)
		}
		f.Header.Manufacturer = binary.LittleEndian.Uint16(rest[:2])
		f.Header.ManufacturerSet = true
		rest = rest[2:]
	}
	if len(rest) < 2 {
		return nil, fmt.Errorf("zcl tsn/command: %w", ErrBufferTooShort)
	}
	f.Header.TSN = rest[0]
	f.Header.CommandID = rest[1]
	f.Payload = rest[2:]
	return f, nil
}

// NeedsDefaultResponse reports whether a received request frame should be
// answered with a Default Response, assuming the handler produced no
// command-specific reply of its own.
func (f *Frame) NeedsDefaultResponse() bool {
	if f.Header.DisableDefaultResp {
		return false
	}
	// Never respond to a Default Response.
	return !(f.Header.FrameType == FrameTypeGlobal && f.Header.CommandID == CmdDefaultResponse)
}

// DefaultResponseFrame builds the Default Response answering this frame,
// echoing its TSN.
func (f *Frame) DefaultResponseFrame(status uint8) *Frame {
	payload := []byte{f.Header.CommandID, status}
	return &Frame{
		Header: Header{
			FrameType:          FrameTypeGlobal,
			Manufacturer:       f.Header.Manufacturer,
			ManufacturerSet:    f.Header.ManufacturerSet,
			Direction:          1 - f.Header.Direction,
			DisableDefaultResp: true,
			TSN:                f.Header.TSN,
			CommandID:          CmdDefaultResponse,
		},
		Payload: payload,
	}
}
