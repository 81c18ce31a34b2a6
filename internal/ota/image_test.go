package ota

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func testImage(fileVersion uint32, payload []byte) *Image {
	img := &Image{
		Header: Header{
			HeaderVersion:      0x0100,
			HeaderLength:       56,
			ManufacturerCode:   4476,
			ImageType:          0x2101,
			FileVersion:        fileVersion,
			ZigbeeStackVersion: 2,
		},
		SubElements: []SubElement{{TagID: TagUpgradeImage, Data: payload}},
	}
	copy(img.Header.HeaderString[:], "EBL test-image")
	raw := img.Serialize()
	img.Header.TotalImageSize = uint32(len(raw))
	return img
}

func TestImageRoundTrip(t *testing.T) {
	img := testImage(0x01000020, bytes.Repeat([]byte{0xA5}, 100))
	raw := img.Serialize()

	parsed, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if !reflect.DeepEqual(parsed, img) {
		t.Errorf("round-trip header = %+v, want %+v", parsed.Header, img.Header)
	}
	if len(parsed.SubElements) != 1 || parsed.SubElements[0].TagID != TagUpgradeImage {
		t.Errorf("sub-elements = %+v", parsed.SubElements)
	}
}

func TestImageOptionalFields(t *testing.T) {
	img := testImage(1, []byte{1, 2, 3})
	img.Header.FieldControl = fieldControlHardwareVersion
	img.Header.MinHardwareVersion = 2
	img.Header.MaxHardwareVersion = 5

	parsed, err := ParseImage(img.Serialize())
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if parsed.Header.MinHardwareVersion != 2 || parsed.Header.MaxHardwareVersion != 5 {
		t.Errorf("hw range = %d..%d", parsed.Header.MinHardwareVersion, parsed.Header.MaxHardwareVersion)
	}
	if parsed.HardwareCompatible(1) || !parsed.HardwareCompatible(3) || parsed.HardwareCompatible(6) {
		t.Error("hardware compatibility checks wrong")
	}
	// Without the field control bit any hardware matches.
	if !testImage(1, nil).HardwareCompatible(99) {
		t.Error("image without hw range must match all versions")
	}
}

func TestImageSignatureElements(t *testing.T) {
	img := testImage(1, []byte{0xAA})
	img.SubElements = append(img.SubElements,
		SubElement{TagID: TagECDSASignature, Data: bytes.Repeat([]byte{0x01}, 74)},
		SubElement{TagID: TagImageIntegrityCode, Data: bytes.Repeat([]byte{0x02}, 16)},
	)
	parsed, err := ParseImage(img.Serialize())
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if len(parsed.SubElements) != 3 {
		t.Fatalf("sub-elements = %d", len(parsed.SubElements))
	}
	if parsed.SubElements[1].TagID != TagECDSASignature || parsed.SubElements[2].TagID != TagImageIntegrityCode {
		t.Errorf("tags = %+v", parsed.SubElements)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := ParseImage([]byte("not an image at all")); !errors.Is(err, ErrNotOTAImage) {
		t.Errorf("garbage err = %v, want ErrNotOTAImage", err)
	}

	// Right magic, truncated header.
	short := make([]byte, 10)
	binary.LittleEndian.PutUint32(short, FileIdentifier)
	if _, err := ParseImage(short); !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated err = %v, want ErrTruncated", err)
	}

	// Truncated sub-element.
	img := testImage(1, []byte{1, 2, 3, 4})
	raw := img.Serialize()
	if _, err := ParseImage(raw[:len(raw)-2]); !errors.Is(err, ErrTruncated) {
		t.Errorf("cut sub-element err = %v, want ErrTruncated", err)
	}
}
