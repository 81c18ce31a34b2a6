// Package ota implements the coordinator side of the ZCL OTA Upgrade
// cluster (0x0019): provider resolution, image selection and the
// block-transfer protocol.
package ota

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FileIdentifier is the magic leading every Zigbee OTA upgrade file.
const FileIdentifier uint32 = 0x0BEEF11E

// Header field-control bits.
const (
	fieldControlSecurityVersion uint16 = 0x0001
	fieldControlDeviceSpecific  uint16 = 0x0002
	fieldControlHardwareVersion uint16 = 0x0004
)

// Sub-element tags.
const (
	TagUpgradeImage       uint16 = 0x0000
	TagECDSASignature     uint16 = 0x0001
	TagECDSACertificate   uint16 = 0x0002
	TagImageIntegrityCode uint16 = 0x0003
)

var (
	ErrNotOTAImage = errors.New("ota: not an OTA upgrade file")
	ErrTruncated   = errors.New("ota: truncated image")
)

// SubElement is one tagged element following the header.
type SubElement struct {
	TagID uint16
	Data  []byte
}

// Header is the fixed OTA file header plus its optional fields.
type Header struct {
	HeaderVersion       uint16
	HeaderLength        uint16
	FieldControl        uint16
	ManufacturerCode    uint16
	ImageType           uint16
	FileVersion         uint32
	ZigbeeStackVersion  uint16
	HeaderString        [32]byte
	TotalImageSize      uint32
	SecurityCredVersion uint8   // fieldControlSecurityVersion
	UpgradeDestination  [8]byte // fieldControlDeviceSpecific
	MinHardwareVersion  uint16  // fieldControlHardwareVersion
	MaxHardwareVersion  uint16  // fieldControlHardwareVersion
}

// Image is a parsed OTA upgrade file.
type Image struct {
	Header      Header
	SubElements []SubElement
}

// Key identifies an image uniquely across providers.
type Key struct {
	ManufacturerCode uint16
	ImageType        uint16
	FileVersion      uint32
}

// Key returns the image's identity.
func (img *Image) Key() Key {
	return Key{
		ManufacturerCode: img.Header.ManufacturerCode,
		ImageType:        img.Header.ImageType,
		FileVersion:      img.Header.FileVersion,
	}
}

// ParseImage parses a full OTA upgrade file.
func ParseImage(data []byte) (*Image, error) {
	if len(data) < 4 || binary.LittleEndian.Uint32(data[:4]) != FileIdentifier {
		return nil, ErrNotOTAImage
	}
	if len(data) < 56 {
		return nil, fmt.Errorf("header of %d bytes: %w", len(data), ErrTruncated)
	}

	h := Header{
		HeaderVersion:      binary.LittleEndian.Uint16(data[4:6]),
		HeaderLength:       binary.LittleEndian.Uint16(data[6:8]),
		FieldControl:       binary.LittleEndian.Uint16(data[8:10]),
		ManufacturerCode:   binary.LittleEndian.Uint16(data[10:12]),
		ImageType:          binary.LittleEndian.Uint16(data[12:14]),
		FileVersion:        binary.LittleEndian.Uint32(data[14:18]),
		ZigbeeStackVersion: binary.LittleEndian.Uint16(data[18:20]),
		TotalImageSize:     binary.LittleEndian.Uint32(data[52:56]),
	}
	copy(h.HeaderString[:], data[20:52])

	offset := 56
	if h.FieldControl&fieldControlSecurityVersion != 0 {
		if len(data) < offset+1 {
			return nil, fmt.Errorf("security credential: %w", ErrTruncated)
		}
		h.SecurityCredVersion = data[offset]
		offset++
	}
	if h.FieldControl&fieldControlDeviceSpecific != 0 {
		if len(data) < offset+8 {
			return nil, fmt.Errorf("upgrade destination: %w", ErrTruncated)
		}
		copy(h.UpgradeDestination[:], data[offset:offset+8])
		offset += 8
	}
	if h.FieldControl&fieldControlHardwareVersion != 0 {
		if len(data) < offset+4 {
			return nil, fmt.Errorf("hardware versions: %w", ErrTruncated)
		}
		h.MinHardwareVersion = binary.LittleEndian.Uint16(data[offset : offset+2])
		h.MaxHardwareVersion = binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
	}
	if int(h.HeaderLength) > offset {
		// Vendors pad headers; skip to the declared length.
		if len(data) < int(h.HeaderLength) {
			return nil, fmt.Errorf("padded header: %w", ErrTruncated)
		}
		offset = int(h.HeaderLength)
	}

	img := &Image{Header: h}
	for offset < len(data) {
		if len(data) < offset+6 {
			return nil, fmt.Errorf("sub-element header at %d: %w", offset, ErrTruncated)
		}
		tag := binary.LittleEndian.Uint16(data[offset : offset+2])
		length := binary.LittleEndian.Uint32(data[offset+2 : offset+6])
		offset += 6
		if len(data) < offset+int(length) {
			return nil, fmt.Errorf("sub-element 0x%04X of %d bytes: %w", tag, length, ErrTruncated)
		}
		img.SubElements = append(img.SubElements, SubElement{
			TagID: tag,
			Data:  append([]byte(nil), data[offset:offset+int(length)]...),
		})
		offset += int(length)
	}
	return img, nil
}

// Serialize renders the image back to wire form.
func (img *Image) Serialize() []byte {
	h := img.Header
	out := make([]byte, 56)
	binary.LittleEndian.PutUint32(out[0:4], FileIdentifier)
	binary.LittleEndian.PutUint16(out[4:6], h.HeaderVersion)
	binary.LittleEndian.PutUint16(out[6:8], h.HeaderLength)
	binary.LittleEndian.PutUint16(out[8:10], h.FieldControl)
	binary.LittleEndian.PutUint16(out[10:12], h.ManufacturerCode)
	binary.LittleEndian.PutUint16(out[12:14], h.ImageType)
	binary.LittleEndian.PutUint32(out[14:18], h.FileVersion)
	binary.LittleEndian.PutUint16(out[18:20], h.ZigbeeStackVersion)
	copy(out[20:52], h.HeaderString[:])
	binary.LittleEndian.PutUint32(out[52:56], h.TotalImageSize)

	if h.FieldControl&fieldControlSecurityVersion != 0 {
		out = append(out, h.SecurityCredVersion)
	}
	if h.FieldControl&fieldControlDeviceSpecific != 0 {
		out = append(out, h.UpgradeDestination[:]...)
	}
	if h.FieldControl&fieldControlHardwareVersion != 0 {
		var b [4]byte
		binary.LittleEndian.PutUint16(b[:2], h.MinHardwareVersion)
		binary.LittleEndian.PutUint16(b[2:], h.MaxHardwareVersion)
		out = append(out, b[:]...)
	}
	for _, se := range img.SubElements {
		var b [6]byte
		binary.LittleEndian.PutUint16(b[:2], se.TagID)
		binary.LittleEndian.PutUint32(b[2:], uint32(len(se.Data)))
		out = append(out, b[:]...)
		out = append(out, se.Data...)
	}
	return out
}

// HardwareCompatible reports whether a device hardware version falls in
// the image's declared range, when one is declared.
func (img *Image) HardwareCompatible(hw uint16) bool {
	if img.Header.FieldControl&fieldControlHardwareVersion == 0 {
		return true
	}
	return hw >= img.Header.MinHardwareVersion && hw <= img.Header.MaxHardwareVersion
}
