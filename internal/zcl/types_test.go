package zcl

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		typeID uint8
		value  interface{}
		wire   []byte
	}{
		{"bool true", TypeBool, true, []byte{0x01}},
		{"uint8", TypeUint8, uint8(0xAB), []byte{0xAB}},
		{"uint16", TypeUint16, uint16(0x1234), []byte{0x34, 0x12}},
		{"uint24", TypeUint24, uint32(0x123456), []byte{0x56, 0x34, 0x12}},
		{"uint32", TypeUint32, uint32(0xDEADBEEF), []byte{0xEF, 0xBE, 0xAD, 0xDE}},
		{"uint40", TypeUint40, uint64(0x1122334455), []byte{0x55, 0x44, 0x33, 0x22, 0x11}},
		{"uint48", TypeUint48, uint64(0x112233445566), []byte{0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"uint56", TypeUint56, uint64(0x11223344556677), []byte{0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"uint64", TypeUint64, uint64(0x1122334455667788), []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"int8 negative", TypeInt8, int8(-5), []byte{0xFB}},
		{"int16", TypeInt16, int16(-1000), []byte{0x18, 0xFC}},
		{"int24 negative", TypeInt24, int32(-1), []byte{0xFF, 0xFF, 0xFF}},
		{"int32", TypeInt32, int32(-123456), []byte{0xC0, 0x1D, 0xFE, 0xFF}},
		{"int40 negative", TypeInt40, int64(-2), []byte{0xFE, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"int48", TypeInt48, int64(0x010203040506), []byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01}},
		{"int56 negative", TypeInt56, int64(-3), []byte{0xFD, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"int64", TypeInt64, int64(-9000000000), []byte{0x00, 0xE6, 0x8E, 0xE7, 0xFD, 0xFF, 0xFF, 0xFF}},
		{"enum8", TypeEnum8, uint8(0x30), []byte{0x30}},
		{"enum16", TypeEnum16, uint16(0x0102), []byte{0x02, 0x01}},
		{"bitmap8", TypeBitmap8, uint8(0x81), []byte{0x81}},
		{"bitmap48", TypeBitmap48, uint64(0x010203040506), []byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01}},
		{"float32", TypeFloat32, float32(1.5), []byte{0x00, 0x00, 0xC0, 0x3F}},
		{"float64", TypeFloat64, float64(-2.25), []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0xC0}},
		{"float16 raw bits", TypeFloat16, uint16(0x3C00), []byte{0x00, 0x3C}},
		{"string", TypeCharStr, "abc", []byte{0x03, 'a', 'b', 'c'}},
		{"string empty", TypeCharStr, "", []byte{0x00}},
		{"octstr", TypeOctetStr, []byte{0xDE, 0xAD}, []byte{0x02, 0xDE, 0xAD}},
		{"string16", TypeCharStr16, "hi", []byte{0x02, 0x00, 'h', 'i'}},
		{"UTC", TypeUTC, uint32(0x5F000000), []byte{0x00, 0x00, 0x00, 0x5F}},
		{"cluster id", TypeClusterID, uint16(0x0006), []byte{0x06, 0x00}},
		{"EUI64", TypeEUI64, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{"key128", TypeKey128, [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			[]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}},
		{"data16", TypeData16, []byte{0xAA, 0xBB}, []byte{0xAA, 0xBB}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeValue(tt.typeID, tt.value)
			if err != nil {
				t.Fatalf("EncodeValue: %v", err)
			}
			if !bytes.Equal(encoded, tt.wire) {
				t.Fatalf("EncodeValue = % X, want % X", encoded, tt.wire)
			}
			decoded, n, err := DecodeValue(tt.typeID, tt.wire)
			if err != nil {
				t.Fatalf("DecodeValue: %v", err)
			}
			if n != len(tt.wire) {
				t.Errorf("consumed %d bytes, want %d", n, len(tt.wire))
			}
			if !reflect.DeepEqual(decoded, tt.value) {
				t.Errorf("DecodeValue = %#v, want %#v", decoded, tt.value)
			}
		})
	}
}

func TestFloatNaNInfRoundTrip(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		encoded, err := EncodeValue(TypeFloat64, v)
		if err != nil {
			t.Fatalf("EncodeValue(%v): %v", v, err)
		}
		decoded, _, err := DecodeValue(TypeFloat64, encoded)
		if err != nil {
			t.Fatalf("DecodeValue(%v): %v", v, err)
		}
		got := decoded.(float64)
		if math.IsNaN(v) {
			if !math.IsNaN(got) {
				t.Errorf("NaN did not round-trip, got %v", got)
			}
		} else if got != v {
			t.Errorf("%v round-tripped to %v", v, got)
		}
	}

	// Single precision infinity.
	encoded, _ := EncodeValue(TypeFloat32, float32(math.Inf(1)))
	decoded, _, err := DecodeValue(TypeFloat32, encoded)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if !math.IsInf(float64(decoded.(float32)), 1) {
		t.Errorf("float32 +Inf round-tripped to %v", decoded)
	}
}

func TestInvalidStringMarker(t *testing.T) {
	// 0xFF length means invalid/absent, distinct from empty.
	decoded, n, err := DecodeValue(TypeCharStr, []byte{0xFF})
	if err != nil || decoded != nil || n != 1 {
		t.Fatalf("DecodeValue(0xFF) = (%v, %d, %v), want (nil, 1, nil)", decoded, n, err)
	}
	decoded, n, err = DecodeValue(TypeCharStr16, []byte{0xFF, 0xFF})
	if err != nil || decoded != nil || n != 2 {
		t.Fatalf("DecodeValue(0xFFFF) = (%v, %d, %v), want (nil, 2, nil)", decoded, n, err)
	}

	encoded, err := EncodeValue(TypeCharStr, nil)
	if err != nil || !bytes.Equal(encoded, []byte{0xFF}) {
		t.Fatalf("EncodeValue(nil string) = (% X, %v)", encoded, err)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	arr := Array{Type: TypeUint16, Values: []interface{}{uint16(1), uint16(2), uint16(3)}}
	encoded, err := EncodeValue(TypeArray, arr)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	want := []byte{TypeUint16, 0x03, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("EncodeValue = % X, want % X", encoded, want)
	}
	decoded, n, err := DecodeValue(TypeArray, encoded)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("consumed %d, want %d", n, len(encoded))
	}
	if !reflect.DeepEqual(decoded, arr) {
		t.Errorf("DecodeValue = %#v, want %#v", decoded, arr)
	}
}

func TestSetAndBagShareArrayShape(t *testing.T) {
	set := Array{Type: TypeUint8, Values: []interface{}{uint8(7), uint8(9)}}
	for _, typeID := range []uint8{TypeSet, TypeBag} {
		encoded, err := EncodeValue(typeID, set)
		if err != nil {
			t.Fatalf("EncodeValue(0x%02X): %v", typeID, err)
		}
		decoded, _, err := DecodeValue(typeID, encoded)
		if err != nil {
			t.Fatalf("DecodeValue(0x%02X): %v", typeID, err)
		}
		if !reflect.DeepEqual(decoded, set) {
			t.Errorf("0x%02X round-trip = %#v", typeID, decoded)
		}
	}
}

func TestStructRoundTrip(t *testing.T) {
	st := Struct{Fields: []TypeValue{
		{Type: TypeUint8, Value: uint8(1)},
		{Type: TypeCharStr, Value: "x"},
	}}
	encoded, err := EncodeValue(TypeStruct, st)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	decoded, _, err := DecodeValue(TypeStruct, encoded)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if !reflect.DeepEqual(decoded, st) {
		t.Errorf("round-trip = %#v, want %#v", decoded, st)
	}
}

func TestTypeValueTaggedUnion(t *testing.T) {
	tv := TypeValue{Type: TypeInt16, Value: int16(-30)}
	encoded, err := tv.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if encoded[0] != TypeInt16 {
		t.Fatalf("leading type code = 0x%02X", encoded[0])
	}
	decoded, n, err := UnmarshalTypeValue(encoded)
	if err != nil {
		t.Fatalf("UnmarshalTypeValue: %v", err)
	}
	if n != len(encoded) || !reflect.DeepEqual(decoded, tv) {
		t.Errorf("round-trip = %#v (%d bytes)", decoded, n)
	}
}

func TestUnknownTypeCode(t *testing.T) {
	if _, _, err := DecodeValue(0x47, []byte{1, 2, 3}); !errors.Is(err, ErrUnknownTypeCode) {
		t.Errorf("DecodeValue(0x47) err = %v, want ErrUnknownTypeCode", err)
	}
	if _, _, err := UnmarshalTypeValue([]byte{0x47, 1}); !errors.Is(err, ErrUnknownTypeCode) {
		t.Errorf("UnmarshalTypeValue err = %v, want ErrUnknownTypeCode", err)
	}
}

func TestBufferTooShort(t *testing.T) {
	cases := []struct {
		typeID uint8
		data   []byte
	}{
		{TypeUint32, []byte{1, 2}},
		{TypeCharStr, []byte{0x05, 'a'}},
		{TypeCharStr16, []byte{0x02}},
		{TypeEUI64, []byte{1, 2, 3}},
		{TypeArray, []byte{TypeUint8, 0x05, 0x00, 1, 2}},
	}
	for _, tt := range cases {
		if _, _, err := DecodeValue(tt.typeID, tt.data); !errors.Is(err, ErrBufferTooShort) {
			t.Errorf("DecodeValue(0x%02X, % X) err = %v, want ErrBufferTooShort", tt.typeID, tt.data, err)
		}
	}
}

func TestEncodeRangeChecks(t *testing.T) {
	if _, err := EncodeValue(TypeUint8, uint16(300)); !errors.Is(err, ErrValueOutOfRange) {
		t.Errorf("uint8 overflow err = %v", err)
	}
	if _, err := EncodeValue(TypeInt24, int64(9000000)); !errors.Is(err, ErrValueOutOfRange) {
		t.Errorf("int24 overflow err = %v", err)
	}
	if _, err := EncodeValue(TypeUint48, uint64(1)<<50); !errors.Is(err, ErrValueOutOfRange) {
		t.Errorf("uint48 overflow err = %v", err)
	}
}

func TestOddWidthsReserializeExactly(t *testing.T) {
	// A 24-bit value decoded into a 32-bit native carrier must re-encode
	// to the original three bytes.
	wire := []byte{0x56, 0x34, 0x12}
	decoded, _, err := DecodeValue(TypeUint24, wire)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	encoded, err := EncodeValue(TypeUint24, decoded)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	if !bytes.Equal(encoded, wire) {
		t.Errorf("re-encoded % X, want % X", encoded, wire)
	}
}
