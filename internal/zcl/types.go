package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs
const (
	TypeNoData     uint8 = 0x00
	TypeData8      uint8 = 0x08
	TypeData16     uint8 = 0x09
	TypeData24     uint8 = 0x0A
	TypeData32     uint8 = 0x0B
	TypeData40     uint8 = 0x0C
	TypeData48     uint8 = 0x0D
	TypeData56     uint8 = 0x0E
	TypeData64     uint8 = 0x0F
	TypeBool       uint8 = 0x10
	TypeBitmap8    uint8 = 0x18
	TypeBitmap16   uint8 = 0x19
	TypeBitmap24   uint8 = 0x1A
	TypeBitmap32   uint8 = 0x1B
	TypeBitmap40   uint8 = 0x1C
	TypeBitmap48   uint8 = 0x1D
	TypeBitmap56   uint8 = 0x1E
	TypeBitmap64   uint8 = 0x1F
	TypeUint8      uint8 = 0x20
	TypeUint16     uint8 = 0x21
	TypeUint24     uint8 = 0x22
	TypeUint32     uint8 = 0x23
	TypeUint40     uint8 = 0x24
	TypeUint48     uint8 = 0x25
	TypeUint56     uint8 = 0x26
	TypeUint64     uint8 = 0x27
	TypeInt8       uint8 = 0x28
	TypeInt16      uint8 = 0x29
	TypeInt24      uint8 = 0x2A
	TypeInt32      uint8 = 0x2B
	TypeInt40      uint8 = 0x2C
	TypeInt48      uint8 = 0x2D
	TypeInt56      uint8 = 0x2E
	TypeInt64      uint8 = 0x2F
	TypeEnum8      uint8 = 0x30
	TypeEnum16     uint8 = 0x31
	TypeFloat16    uint8 = 0x38
	TypeFloat32    uint8 = 0x39
	TypeFloat64    uint8 = 0x3A
	TypeOctetStr   uint8 = 0x41
	TypeCharStr    uint8 = 0x42
	TypeOctetStr16 uint8 = 0x43
	TypeCharStr16  uint8 = 0x44
	TypeArray      uint8 = 0x48
	TypeStruct     uint8 = 0x4C
	TypeSet        uint8 = 0x50
	TypeBag        uint8 = 0x51
	TypeToD        uint8 = 0xE0 // Time of Day
	TypeDate       uint8 = 0xE1
	TypeUTC        uint8 = 0xE2
	TypeClusterID  uint8 = 0xE8
	TypeAttrID     uint8 = 0xE9
	TypeBACnetOID  uint8 = 0xEA
	TypeEUI64      uint8 = 0xF0
	TypeKey128     uint8 = 0xF1
	TypeUnknown    uint8 = 0xFF
)

const (
	typeSizeVariable   = -1 // 1-byte length prefix
	typeSizeVariable16 = -3 // 2-byte length prefix
	typeSizeCompound   = -4 // array/struct/set/bag
	typeSizeUnknown    = -2 // unrecognized type
)

// TypeSize returns the fixed size in bytes of a ZCL type, or a negative
// marker for variable-length, compound and unknown types.
func TypeSize(typeID uint8) int {
	switch {
	case typeID == TypeNoData, typeID == TypeUnknown:
		return 0
	case typeID >= TypeData8 && typeID <= TypeData64:
		return int(typeID-TypeData8) + 1
	case typeID == TypeBool:
		return 1
	case typeID >= TypeBitmap8 && typeID <= TypeBitmap64:
		return int(typeID-TypeBitmap8) + 1
	case typeID >= TypeUint8 && typeID <= TypeUint64:
		return int(typeID-TypeUint8) + 1
	case typeID >= TypeInt8 && typeID <= TypeInt64:
		return int(typeID-TypeInt8) + 1
	case typeID == TypeEnum8:
		return 1
	case typeID == TypeEnum16:
		return 2
	case typeID == TypeFloat16:
		return 2
	case typeID == TypeFloat32:
		return 4
	case typeID == TypeFloat64:
		return 8
	case typeID == TypeOctetStr, typeID == TypeCharStr:
		return typeSizeVariable
	case typeID == TypeOctetStr16, typeID == TypeCharStr16:
		return typeSizeVariable16
	case typeID == TypeArray, typeID == TypeStruct, typeID == TypeSet, typeID == TypeBag:
		return typeSizeCompound
	case typeID == TypeToD, typeID == TypeDate, typeID == TypeUTC:
		return 4
	case typeID == TypeClusterID, typeID == TypeAttrID:
		return 2
	case typeID == TypeBACnetOID:
		return 4
	case typeID == TypeEUI64:
		return 8
	case typeID == TypeKey128:
		return 16
	}
	return typeSizeUnknown
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	switch typeID {
	case TypeNoData:
		return "nodata"
	case TypeBool:
		return "bool"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint24:
		return "uint24"
	case TypeUint32:
		return "uint32"
	case TypeUint40:
		return "uint40"
	case TypeUint48:
		return "uint48"
	case TypeUint56:
		return "uint56"
	case TypeUint64:
		return "uint64"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt24:
		return "int24"
	case TypeInt32:
		return "int32"
	case TypeInt40:
		return "int40"
	case TypeInt48:
		return "int48"
	case TypeInt56:
		return "int56"
	case TypeInt64:
		return "int64"
	case TypeEnum8:
		return "enum8"
	case TypeEnum16:
		return "enum16"
	case TypeFloat16:
		return "float16"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeOctetStr:
		return "octstr"
	case TypeCharStr:
		return "string"
	case TypeOctetStr16:
		return "octstr16"
	case TypeCharStr16:
		return "string16"
	case TypeBitmap8:
		return "map8"
	case TypeBitmap16:
		return "map16"
	case TypeBitmap24:
		return "map24"
	case TypeBitmap32:
		return "map32"
	case TypeBitmap40:
		return "map40"
	case TypeBitmap48:
		return "map48"
	case TypeBitmap56:
		return "map56"
	case TypeBitmap64:
		return "map64"
	case TypeArray:
		return "array"
	case TypeStruct:
		return "struct"
	case TypeSet:
		return "set"
	case TypeBag:
		return "bag"
	case TypeToD:
		return "ToD"
	case TypeDate:
		return "date"
	case TypeUTC:
		return "UTC"
	case TypeClusterID:
		return "clusterID"
	case TypeAttrID:
		return "attrID"
	case TypeBACnetOID:
		return "bacOID"
	case TypeEUI64:
		return "EUI64"
	case TypeKey128:
		return "key128"
	}
	return fmt.Sprintf("0x%02X", typeID)
}

// DecodeValue decodes a ZCL typed value from raw bytes, returning the Go
// value and bytes consumed. Unsigned widths 24/40/48/56 decode to the next
// larger native width; signed ones are sign-extended the same way.
// Float16 values are carried as their raw IEEE-754 half bits.
func DecodeValue(typeID uint8, data []byte) (interface{}, int, error) {
	size := TypeSize(typeID)
	switch size {
	case 0:
		return nil, 0, nil
	case typeSizeUnknown:
		return nil, 0, fmt.Errorf("type 0x%02X: %w", typeID, ErrUnknownTypeCode)
	case typeSizeVariable, typeSizeVariable16:
		return decodeVariableValue(typeID, data)
	case typeSizeCompound:
		return decodeCompoundValue(typeID, data)
	}

	if len(data) < size {
		return nil, 0, fmt.Errorf("type 0x%02X needs %d bytes, have %d: %w", typeID, size, len(data), ErrBufferTooShort)
	}

	switch typeID {
	case TypeBool:
		return data[0] != 0, 1, nil
	case TypeUint8, TypeEnum8, TypeBitmap8:
		return data[0], 1, nil
	case TypeUint16, TypeEnum16, TypeBitmap16, TypeClusterID, TypeAttrID, TypeFloat16:
		return binary.LittleEndian.Uint16(data[:2]), 2, nil
	case TypeUint24, TypeBitmap24:
		return leUint(data[:3]), 3, nil
	case TypeUint32, TypeBitmap32, TypeToD, TypeDate, TypeUTC, TypeBACnetOID:
		return binary.LittleEndian.Uint32(data[:4]), 4, nil
	case TypeUint40, TypeBitmap40:
		return leUint64(data[:5]), 5, nil
	case TypeUint48, TypeBitmap48:
		return leUint64(data[:6]), 6, nil
	case TypeUint56, TypeBitmap56:
		return leUint64(data[:7]), 7, nil
	case TypeUint64, TypeBitmap64:
		return binary.LittleEndian.Uint64(data[:8]), 8, nil
	case TypeInt8:
		return int8(data[0]), 1, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(data[:2])), 2, nil
	case TypeInt24:
		return int32(signExtend(leUint64(data[:3]), 24)), 3, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(data[:4])), 4, nil
	case TypeInt40:
		return signExtend(leUint64(data[:5]), 40), 5, nil
	case TypeInt48:
		return signExtend(leUint64(data[:6]), 48), 6, nil
	case TypeInt56:
		return signExtend(leUint64(data[:7]), 56), 7, nil
	case TypeInt64:
		return int64(binary.LittleEndian.Uint64(data[:8])), 8, nil
	case TypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data[:4])), 4, nil
	case TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[:8])), 8, nil
	case TypeEUI64:
		var addr [8]byte
		copy(addr[:], data[:8])
		return addr, 8, nil
	case TypeKey128:
		var key [16]byte
		copy(key[:], data[:16])
		return key, 16, nil
	}

	// dataN: opaque bytes, kept as-is
	b := make([]byte, size)
	copy(b, data[:size])
	return b, size, nil
}

func leUint(data []byte) uint32 {
	var v uint32
	for i := len(data) - 1; i >= 0; i-- {
		v = v<<8 | uint32(data[i])
	}
	return v
}

func leUint64(data []byte) uint64 {
	var v uint64
	for i := len(data) - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v
}

func signExtend(v uint64, bits uint) int64 {
	if v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}
	return int64(v)
}

func decodeVariableValue(typeID uint8, data []byte) (interface{}, int, error) {
	switch typeID {
	case TypeOctetStr, TypeCharStr:
		if len(data) < 1 {
			return nil, 0, fmt.Errorf("string length byte: %w", ErrBufferTooShort)
		}
		length := int(data[0])
		if length == 0xFF {
			return nil, 1, nil // invalid/absent, distinct from empty
		}
		if len(data) < 1+length {
			return nil, 0, fmt.Errorf("string of %d bytes, have %d: %w", length, len(data)-1, ErrBufferTooShort)
		}
		if typeID == TypeCharStr {
			return string(data[1 : 1+length]), 1 + length, nil
		}
		b := make([]byte, length)
		copy(b, data[1:1+length])
		return b, 1 + length, nil

	case TypeOctetStr16, TypeCharStr16:
		if len(data) < 2 {
			return nil, 0, fmt.Errorf("string16 length: %w", ErrBufferTooShort)
		}
		length := int(binary.LittleEndian.Uint16(data[:2]))
		if length == 0xFFFF {
			return nil, 2, nil
		}
		if len(data) < 2+length {
			return nil, 0, fmt.Errorf("string16 of %d bytes: %w", length, ErrBufferTooShort)
		}
		if typeID == TypeCharStr16 {
			return string(data[2 : 2+length]), 2 + length, nil
		}
		b := make([]byte, length)
		copy(b, data[2:2+length])
		return b, 2 + length, nil
	}
	return nil, 0, fmt.Errorf("type 0x%02X: %w", typeID, ErrUnknownTypeCode)
}

// EncodeValue encodes a Go value into ZCL wire format.
func EncodeValue(typeID uint8, val interface{}) ([]byte, error) {
	switch typeID {
	case TypeNoData, TypeUnknown:
		return nil, nil

	case TypeBool:
		v, ok := toBool(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeUint8, TypeEnum8, TypeBitmap8:
		return encodeUint(typeID, val, 1)
	case TypeUint16, TypeEnum16, TypeBitmap16, TypeClusterID, TypeAttrID, TypeFloat16:
		return encodeUint(typeID, val, 2)
	case TypeUint24, TypeBitmap24:
		return encodeUint(typeID, val, 3)
	case TypeUint32, TypeBitmap32, TypeToD, TypeDate, TypeUTC, TypeBACnetOID:
		return encodeUint(typeID, val, 4)
	case TypeUint40, TypeBitmap40:
		return encodeUint(typeID, val, 5)
	case TypeUint48, TypeBitmap48:
		return encodeUint(typeID, val, 6)
	case TypeUint56, TypeBitmap56:
		return encodeUint(typeID, val, 7)
	case TypeUint64, TypeBitmap64:
		return encodeUint(typeID, val, 8)

	case TypeInt8:
		return encodeInt(typeID, val, 1)
	case TypeInt16:
		return encodeInt(typeID, val, 2)
	case TypeInt24:
		return encodeInt(typeID, val, 3)
	case TypeInt32:
		return encodeInt(typeID, val, 4)
	case TypeInt40:
		return encodeInt(typeID, val, 5)
	case TypeInt48:
		return encodeInt(typeID, val, 6)
	case TypeInt56:
		return encodeInt(typeID, val, 7)
	case TypeInt64:
		return encodeInt(typeID, val, 8)

	case TypeFloat32:
		v, ok := toFloat64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to float32", val)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf, nil

	case TypeFloat64:
		v, ok := toFloat64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to float64", val)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		return buf, nil

	case TypeEUI64:
		switch a := val.(type) {
		case [8]byte:
			b := make([]byte, 8)
			copy(b, a[:])
			return b, nil
		case []byte:
			if len(a) != 8 {
				return nil, fmt.Errorf("zcl: EUI64 requires 8 bytes, got %d", len(a))
			}
			b := make([]byte, 8)
			copy(b, a)
			return b, nil
		}
		return nil, fmt.Errorf("zcl: cannot convert %T to EUI64", val)

	case TypeKey128:
		switch a := val.(type) {
		case [16]byte:
			b := make([]byte, 16)
			copy(b, a[:])
			return b, nil
		case []byte:
			if len(a) != 16 {
				return nil, fmt.Errorf("zcl: key128 requires 16 bytes, got %d", len(a))
			}
			b := make([]byte, 16)
			copy(b, a)
			return b, nil
		}
		return nil, fmt.Errorf("zcl: cannot convert %T to key128", val)

	case TypeCharStr, TypeCharStr16:
		if val == nil {
			// Invalid/absent string marker.
			if typeID == TypeCharStr {
				return []byte{0xFF}, nil
			}
			return []byte{0xFF, 0xFF}, nil
		}
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to string", val)
		}
		return encodeLengthPrefixed(typeID == TypeCharStr16, []byte(s))

	case TypeOctetStr, TypeOctetStr16:
		if val == nil {
			if typeID == TypeOctetStr {
				return []byte{0xFF}, nil
			}
			return []byte{0xFF, 0xFF}, nil
		}
		b, ok := val.([]byte)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to []byte", val)
		}
		return encodeLengthPrefixed(typeID == TypeOctetStr16, b)

	case TypeArray, TypeSet, TypeBag:
		a, ok := val.(Array)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to array", val)
		}
		return a.marshal()

	case TypeStruct:
		s, ok := val.(Struct)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to struct", val)
		}
		return s.marshal()
	}

	if TypeSize(typeID) > 0 { // dataN
		b, ok := val.([]byte)
		if !ok || len(b) != TypeSize(typeID) {
			return nil, fmt.Errorf("zcl: data type 0x%02X requires %d raw bytes", typeID, TypeSize(typeID))
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	return nil, fmt.Errorf("type 0x%02X: %w", typeID, ErrUnknownTypeCode)
}

func encodeLengthPrefixed(wide bool, b []byte) ([]byte, error) {
	if wide {
		if len(b) > 0xFFFE {
			return nil, fmt.Errorf("zcl: %d bytes exceeds string16 maximum: %w", len(b), ErrValueOutOfRange)
		}
		buf := make([]byte, 2+len(b))
		binary.LittleEndian.PutUint16(buf[:2], uint16(len(b)))
		copy(buf[2:], b)
		return buf, nil
	}
	if len(b) > 0xFE {
		return nil, fmt.Errorf("zcl: %d bytes exceeds string maximum: %w", len(b), ErrValueOutOfRange)
	}
	buf := make([]byte, 1+len(b))
	buf[0] = uint8(len(b))
	copy(buf[1:], b)
	return buf, nil
}

func encodeUint(typeID uint8, val interface{}, width int) ([]byte, error) {
	v, ok := toUint64(val)
	if !ok {
		return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
	}
	if width < 8 && v >= uint64(1)<<(8*width) {
		return nil, fmt.Errorf("zcl: %d overflows %s: %w", v, TypeName(typeID), ErrValueOutOfRange)
	}
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf, nil
}

func encodeInt(typeID uint8, val interface{}, width int) ([]byte, error) {
	v, ok := toInt64(val)
	if !ok {
		return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
	}
	if width < 8 {
		limit := int64(1) << (8*width - 1)
		if v < -limit || v >= limit {
			return nil, fmt.Errorf("zcl: %d overflows %s: %w", v, TypeName(typeID), ErrValueOutOfRange)
		}
	}
	u := uint64(v)
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(u >> (8 * i))
	}
	return buf, nil
}

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	case uint8:
		return val != 0, true
	}
	return false, false
}

func toUint64(v interface{}) (uint64, bool) {
	switch val := v.(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case uint:
		return uint64(val), true
	case int:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case int64:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case float64:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float64:
		if val > math.MaxInt64 || val < math.MinInt64 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}
