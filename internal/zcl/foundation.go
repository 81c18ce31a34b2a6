package zcl

import (
	"encoding/binary"
	"fmt"
)

// Foundation (global) ZCL command IDs.
const (
	CmdReadAttributes                uint8 = 0x00
	CmdReadAttributesResponse        uint8 = 0x01
	CmdWriteAttributes               uint8 = 0x02
	CmdWriteAttributesUndivided      uint8 = 0x03
	CmdWriteAttributesResponse       uint8 = 0x04
	CmdWriteAttributesNoResponse     uint8 = 0x05
	CmdConfigureReporting            uint8 = 0x06
	CmdConfigureReportingResp        uint8 = 0x07
	CmdReadReportingConfig           uint8 = 0x08
	CmdReadReportingConfigResp       uint8 = 0x09
	CmdReportAttributes              uint8 = 0x0A
	CmdDefaultResponse               uint8 = 0x0B
	CmdDiscoverAttributes            uint8 = 0x0C
	CmdDiscoverAttributesResp        uint8 = 0x0D
	CmdDiscoverCommandsReceived      uint8 = 0x11
	CmdDiscoverCommandsReceivedResp  uint8 = 0x12
	CmdDiscoverCommandsGenerated     uint8 = 0x13
	CmdDiscoverCommandsGeneratedResp uint8 = 0x14
	CmdDiscoverAttributesExt         uint8 = 0x15
	CmdDiscoverAttributesExtResp     uint8 = 0x16
)

// ZCL status codes.
const (
	StatusSuccess          uint8 = 0x00
	StatusFailure          uint8 = 0x01
	StatusMalformedCommand uint8 = 0x80
	StatusUnsupCommand     uint8 = 0x81
	StatusUnsupportedAttr  uint8 = 0x86
	StatusInvalidValue     uint8 = 0x87
	StatusReadOnly         uint8 = 0x88
	StatusNotFound         uint8 = 0x8B
	StatusUnreportable     uint8 = 0x8C
	StatusInvalidDataType  uint8 = 0x8D
	StatusTimeout          uint8 = 0x94
	StatusAbort            uint8 = 0x95
	StatusWaitForData      uint8 = 0x97
	StatusNoImageAvailable uint8 = 0x98
)

// ReadAttributeRecord is one result in a Read Attributes Response.
type ReadAttributeRecord struct {
	AttrID uint16
	Status uint8
	Value  TypeValue // valid only when Status == StatusSuccess
}

// WriteAttributeRecord is one attribute in a Write Attributes request or a
// Report Attributes frame.
type WriteAttributeRecord struct {
	AttrID uint16
	Value  TypeValue
}

// WriteAttributeStatus is one result in a Write Attributes Response.
type WriteAttributeStatus struct {
	Status uint8
	AttrID uint16
}

// ReportingConfig is one record of a Configure Reporting request.
type ReportingConfig struct {
	Direction        uint8 // 0: peer reports this attribute, 1: we receive reports
	AttrID           uint16
	DataType         uint8
	MinInterval      uint16
	MaxInterval      uint16
	ReportableChange TypeValue // analog types only
	TimeoutPeriod    uint16    // direction 1 only
}

// AttributeReportingStatus is one record of a Configure Reporting Response.
type AttributeReportingStatus struct {
	Status    uint8
	Direction uint8
	AttrID    uint16
}

// DefaultResponseCommand is the payload of a Default Response.
type DefaultResponseCommand struct {
	CommandID uint8
	Status    uint8
}

// DiscoverAttributesCommand asks a cluster for its attribute ids.
type DiscoverAttributesCommand struct {
	StartAttrID uint16
	MaxCount    uint8
}

// DiscoveredAttribute is one entry of a Discover Attributes Response.
type DiscoveredAttribute struct {
	AttrID   uint16
	DataType uint8
}

// EncodeReadAttributes packs the attribute id list of a Read Attributes
// request.
func EncodeReadAttributes(attrIDs []uint16) []byte {
	out := make([]byte, 0, 2*len(attrIDs))
	for _, id := range attrIDs {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], id)
		out = append(out, b[:]...)
	}
	return out
}

// DecodeReadAttributes parses a Read Attributes request payload.
func DecodeReadAttributes(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("read attributes payload of %d bytes: %w", len(data), ErrBufferTooShort)
	}
	ids := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		ids = append(ids, binary.LittleEndian.Uint16(data[i:i+2]))
	}
	return ids, nil
}

// EncodeReadAttributesResponse packs Read Attributes Response records.
func EncodeReadAttributesResponse(records []ReadAttributeRecord) ([]byte, error) {
	var out []byte
	for _, r := range records {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], r.AttrID)
		out = append(out, b[:]...)
		out = append(out, r.Status)
		if r.Status == StatusSuccess {
			v, err := r.Value.Marshal()
			if err != nil {
				return nil, fmt.Errorf("attr 0x%04X: %w", r.AttrID, err)
			}
			out = append(out, v...)
		}
	}
	return out, nil
}

// DecodeReadAttributesResponse parses Read Attributes Response records.
func DecodeReadAttributesResponse(data []byte) ([]ReadAttributeRecord, error) {
	var records []ReadAttributeRecord
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, fmt.Errorf("read attributes response record: %w", ErrBufferTooShort)
		}
		r := ReadAttributeRecord{
			AttrID: binary.LittleEndian.Uint16(data[:2]),
			Status: data[2],
		}
		data = data[3:]
		if r.Status == StatusSuccess {
			tv, n, err := UnmarshalTypeValue(data)
			if err != nil {
				return nil, fmt.Errorf("attr 0x%04X value: %w", r.AttrID, err)
			}
			r.Value = tv
			data = data[n:]
		}
		records = append(records, r)
	}
	return records, nil
}

// EncodeWriteAttributes packs Write Attributes (all variants) or Report
// Attributes records: attr id, type code, value.
func EncodeWriteAttributes(records []WriteAttributeRecord) ([]byte, error) {
	var out []byte
	for _, r := range records {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], r.AttrID)
		out = append(out, b[:]...)
		v, err := r.Value.Marshal()
		if err != nil {
			return nil, fmt.Errorf("attr 0x%04X: %w", r.AttrID, err)
		}
		out = append(out, v...)
	}
	return out, nil
}

// DecodeWriteAttributes parses Write Attributes or Report Attributes
// records.
func DecodeWriteAttributes(data []byte) ([]WriteAttributeRecord, error) {
	var records []WriteAttributeRecord
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, fmt.Errorf("write attributes record: %w", ErrBufferTooShort)
		}
		r := WriteAttributeRecord{AttrID: binary.LittleEndian.Uint16(data[:2])}
		tv, n, err := UnmarshalTypeValue(data[2:])
		if err != nil {
			return nil, fmt.Errorf("attr 0x%04X value: %w", r.AttrID, err)
		}
		r.Value = tv
		data = data[2+n:]
		records = append(records, r)
	}
	return records, nil
}

// EncodeWriteAttributesResponse packs a Write Attributes Response. A fully
// successful write is a single success byte with no attribute id.
func EncodeWriteAttributesResponse(statuses []WriteAttributeStatus) []byte {
	if len(statuses) == 0 {
		return []byte{StatusSuccess}
	}
	out := make([]byte, 0, 3*len(statuses))
	for _, s := range statuses {
		out = append(out, s.Status)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], s.AttrID)
		out = append(out, b[:]...)
	}
	return out
}

// DecodeWriteAttributesResponse parses a Write Attributes Response.
func DecodeWriteAttributesResponse(data []byte) ([]WriteAttributeStatus, error) {
	if len(data) == 1 && data[0] == StatusSuccess {
		return nil, nil
	}
	var statuses []WriteAttributeStatus
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, fmt.Errorf("write attributes response record: %w", ErrBufferTooShort)
		}
		statuses = append(statuses, WriteAttributeStatus{
			Status: data[0],
			AttrID: binary.LittleEndian.Uint16(data[1:3]),
		})
		data = data[3:]
	}
	return statuses, nil
}

// analogType reports whether a reportable-change field applies to the type.
func analogType(typeID uint8) bool {
	switch {
	case typeID >= TypeUint8 && typeID <= TypeUint64:
		return true
	case typeID >= TypeInt8 && typeID <= TypeInt64:
		return true
	case typeID == TypeFloat16, typeID == TypeFloat32, typeID == TypeFloat64:
		return true
	case typeID == TypeToD, typeID == TypeDate, typeID == TypeUTC:
		return true
	}
	return false
}

// EncodeConfigureReporting packs Configure Reporting records.
func EncodeConfigureReporting(configs []ReportingConfig) ([]byte, error) {
	var out []byte
	for _, c := range configs {
		out = append(out, c.Direction)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], c.AttrID)
		out = append(out, b[:]...)
		if c.Direction == 0 {
			out = append(out, c.DataType)
			binary.LittleEndian.PutUint16(b[:], c.MinInterval)
			out = append(out, b[:]...)
			binary.LittleEndian.PutUint16(b[:], c.MaxInterval)
			out = append(out, b[:]...)
			if analogType(c.DataType) {
				v, err := EncodeValue(c.DataType, c.ReportableChange.Value)
				if err != nil {
					return nil, fmt.Errorf("attr 0x%04X reportable change: %w", c.AttrID, err)
				}
				out = append(out, v...)
			}
		} else {
			binary.LittleEndian.PutUint16(b[:], c.TimeoutPeriod)
			out = append(out, b[:]...)
		}
	}
	return out, nil
}

// DecodeConfigureReporting parses Configure Reporting records.
func DecodeConfigureReporting(data []byte) ([]ReportingConfig, error) {
	var configs []ReportingConfig
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, fmt.Errorf("configure reporting record: %w", ErrBufferTooShort)
		}
		c := ReportingConfig{
			Direction: data[0],
			AttrID:    binary.LittleEndian.Uint16(data[1:3]),
		}
		data = data[3:]
		if c.Direction == 0 {
			if len(data) < 5 {
				return nil, fmt.Errorf("configure reporting intervals: %w", ErrBufferTooShort)
			}
			c.DataType = data[0]
			c.MinInterval = binary.LittleEndian.Uint16(data[1:3])
			c.MaxInterval = binary.LittleEndian.Uint16(data[3:5])
			data = data[5:]
			if analogType(c.DataType) {
				v, n, err := DecodeValue(c.DataType, data)
				if err != nil {
					return nil, fmt.Errorf("attr 0x%04X reportable change: %w", c.AttrID, err)
				}
				c.ReportableChange = TypeValue{Type: c.DataType, Value: v}
				data = data[n:]
			}
		} else {
			if len(data) < 2 {
				return nil, fmt.Errorf("configure reporting timeout: %w", ErrBufferTooShort)
			}
			c.TimeoutPeriod = binary.LittleEndian.Uint16(data[:2])
			data = data[2:]
		}
		configs = append(configs, c)
	}
	return configs, nil
}

// EncodeConfigureReportingResponse packs a Configure Reporting Response.
func EncodeConfigureReportingResponse(statuses []AttributeReportingStatus) []byte {
	if len(statuses) == 0 {
		return []byte{StatusSuccess}
	}
	out := make([]byte, 0, 4*len(statuses))
	for _, s := range statuses {
		out = append(out, s.Status, s.Direction)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], s.AttrID)
		out = append(out, b[:]...)
	}
	return out
}

// DecodeDefaultResponse parses a Default Response payload.
func DecodeDefaultResponse(data []byte) (DefaultResponseCommand, error) {
	if len(data) < 2 {
		return DefaultResponseCommand{}, fmt.Errorf("default response: %w", ErrBufferTooShort)
	}
	return DefaultResponseCommand{CommandID: data[0], Status: data[1]}, nil
}

// EncodeDiscoverAttributes packs a Discover Attributes request.
func EncodeDiscoverAttributes(cmd DiscoverAttributesCommand) []byte {
	out := make([]byte, 3)
	binary.LittleEndian.PutUint16(out[:2], cmd.StartAttrID)
	out[2] = cmd.MaxCount
	return out
}

// DecodeDiscoverAttributesResponse parses a Discover Attributes Response:
// a discovery-complete flag followed by (attr id, type) pairs.
func DecodeDiscoverAttributesResponse(data []byte) (complete bool, attrs []DiscoveredAttribute, err error) {
	if len(data) < 1 {
		return false, nil, fmt.Errorf("discover attributes response: %w", ErrBufferTooShort)
	}
	complete = data[0] != 0
	data = data[1:]
	for len(data) >= 3 {
		attrs = append(attrs, DiscoveredAttribute{
			AttrID:   binary.LittleEndian.Uint16(data[:2]),
			DataType: data[2],
		})
		data = data[3:]
	}
	return complete, attrs, nil
}

// DecodeDiscoverCommands parses a Discover Commands Received/Generated
// Response: a discovery-complete flag followed by command ids.
func DecodeDiscoverCommands(data []byte) (complete bool, ids []uint8, err error) {
	if len(data) < 1 {
		return false, nil, fmt.Errorf("discover commands response: %w", ErrBufferTooShort)
	}
	return data[0] != 0, append([]uint8(nil), data[1:]...), nil
}
