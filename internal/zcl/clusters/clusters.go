// Package clusters carries the standard ZCL cluster definitions the
// registry is seeded with.
package clusters

import "zigbee-appd/internal/zcl"

// RegisterAll seeds a registry with every standard definition in this
// package.
func RegisterAll(r *zcl.Registry) {
	for _, def := range []zcl.ClusterDef{
		Basic,
		PowerConfiguration,
		Identify,
		Groups,
		Scenes,
		OnOff,
		LevelControl,
		Alarms,
		Time,
		OTAUpgrade,
		PollControl,
		ColorControl,
		IlluminanceMeasurement,
		IlluminanceLevelSensing,
		TemperatureMeasurement,
		PressureMeasurement,
		RelativeHumidity,
		OccupancySensing,
		IASZone,
		Metering,
		ElectricalMeasurement,
		GreenPower,
		TouchlinkCommissioning,
	} {
		r.Register(def)
	}
}
