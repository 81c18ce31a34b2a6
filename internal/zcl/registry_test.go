package zcl

import (
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(ClusterDef{
		ID:   0x0006,
		Name: "On/Off",
		Attributes: []AttributeDef{
			{ID: 0x0000, Name: "OnOff", Type: TypeBool, Access: AccessRead | AccessReport},
		},
	})

	def := r.Get(0x0006)
	if def == nil || def.Name != "On/Off" {
		t.Fatalf("Get(0x0006) = %+v", def)
	}
	if r.Get(0xBEEF) != nil {
		t.Error("unknown cluster should be nil")
	}

	// Registered definitions are copies; mutating the result must not
	// poison the registry.
	def.Attributes[0].Name = "mutated"
	if r.Get(0x0006).Attributes[0].Name != "OnOff" {
		t.Error("registry shares state with callers")
	}
}

func TestRegistryManufacturerSpecific(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(ClusterDef{ID: 0xFC00, Name: "Standard FC00"})
	r.Register(ClusterDef{ID: 0xFC00, Manufacturer: 0x117C, Name: "IKEA FC00"})

	if got := r.GetManufacturer(0x117C, 0xFC00); got == nil || got.Name != "IKEA FC00" {
		t.Errorf("manufacturer lookup = %+v", got)
	}
	// Other manufacturers fall back to the standard table.
	if got := r.GetManufacturer(0x1037, 0xFC00); got == nil || got.Name != "Standard FC00" {
		t.Errorf("fallback lookup = %+v", got)
	}
	// Entirely unknown clusters degrade to nil.
	if r.GetManufacturer(0x117C, 0xFCFF) != nil {
		t.Error("unknown manufacturer cluster should be nil")
	}
}

func TestRegistryAttributeType(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(ClusterDef{
		ID: 0x0402,
		Attributes: []AttributeDef{
			{ID: 0x0000, Name: "MeasuredValue", Type: TypeInt16, Access: AccessRead},
		},
	})
	if got := r.AttributeType(0, 0x0402, 0x0000); got != TypeInt16 {
		t.Errorf("AttributeType = 0x%02X", got)
	}
	if got := r.AttributeType(0, 0x0402, 0x9999); got != TypeUnknown {
		t.Errorf("unknown attribute type = 0x%02X", got)
	}
	if got := r.AttributeType(0, 0xBEEF, 0x0000); got != TypeUnknown {
		t.Errorf("unknown cluster type = 0x%02X", got)
	}
}
