package zcl

import (
	"encoding/binary"
	"fmt"
)

// TypeValue is the tagged ZCL "any" value: one type code byte followed by
// the payload of that type. This is the wire form used by attribute reports,
// read responses and writes.
type TypeValue struct {
	Type  uint8
	Value interface{}
}

// Marshal serializes the type byte followed by the encoded payload.
func (tv TypeValue) Marshal() ([]byte, error) {
	payload, err := EncodeValue(tv.Type, tv.Value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(payload))
	out = append(out, tv.Type)
	return append(out, payload...), nil
}

// UnmarshalTypeValue dispatches on the leading type code byte and decodes
// the payload, returning the value and total bytes consumed.
func UnmarshalTypeValue(data []byte) (TypeValue, int, error) {
	if len(data) < 1 {
		return TypeValue{}, 0, fmt.Errorf("type code: %w", ErrBufferTooShort)
	}
	typeID := data[0]
	val, n, err := DecodeValue(typeID, data[1:])
	if err != nil {
		return TypeValue{}, 0, err
	}
	return TypeValue{Type: typeID, Value: val}, 1 + n, nil
}

// Array is the wire form shared by array, set and bag: an inner type code,
// a 16-bit element count and the packed elements.
type Array struct {
	Type   uint8
	Values []interface{}
}

func (a Array) marshal() ([]byte, error) {
	out := make([]byte, 3)
	out[0] = a.Type
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(a.Values)))
	for _, v := range a.Values {
		b, err := EncodeValue(a.Type, v)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// Struct is an ordered sequence of tagged values, each carrying its own
// type code.
type Struct struct {
	Fields []TypeValue
}

func (s Struct) marshal() ([]byte, error) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out[:2], uint16(len(s.Fields)))
	for _, f := range s.Fields {
		b, err := f.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func decodeCompoundValue(typeID uint8, data []byte) (interface{}, int, error) {
	switch typeID {
	case TypeArray, TypeSet, TypeBag:
		if len(data) < 3 {
			return nil, 0, fmt.Errorf("array header: %w", ErrBufferTooShort)
		}
		inner := data[0]
		count := int(binary.LittleEndian.Uint16(data[1:3]))
		consumed := 3
		arr := Array{Type: inner, Values: make([]interface{}, 0, count)}
		for i := 0; i < count; i++ {
			v, n, err := DecodeValue(inner, data[consumed:])
			if err != nil {
				return nil, 0, fmt.Errorf("array element %d: %w", i, err)
			}
			arr.Values = append(arr.Values, v)
			consumed += n
		}
		return arr, consumed, nil

	case TypeStruct:
		if len(data) < 2 {
			return nil, 0, fmt.Errorf("struct header: %w", ErrBufferTooShort)
		}
		count := int(binary.LittleEndian.Uint16(data[:2]))
		consumed := 2
		st := Struct{Fields: make([]TypeValue, 0, count)}
		for i := 0; i < count; i++ {
			tv, n, err := UnmarshalTypeValue(data[consumed:])
			if err != nil {
				return nil, 0, fmt.Errorf("struct field %d: %w", i, err)
			}
			st.Fields = append(st.Fields, tv)
			consumed += n
		}
		return st, consumed, nil
	}
	return nil, 0, fmt.Errorf("type 0x%02X: %w", typeID, ErrUnknownTypeCode)
}
