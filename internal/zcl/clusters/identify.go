package clusters

import "zigbee-appd/internal/zcl"

var Identify = zcl.ClusterDef{
	ID:   0x0003,
	Name: "Identify",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "IdentifyTime", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite, Mandatory: true},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "Identify", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeUint16}},
		{ID: 0x01, Name: "IdentifyQuery", Direction: zcl.DirectionToServer, Response: 0x00, HasResponse: true},
		{ID: 0x40, Name: "TriggerEffect", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeEnum8, zcl.TypeEnum8}},
		{ID: 0x00, Name: "IdentifyQueryResponse", Direction: zcl.DirectionToClient, Params: []uint8{zcl.TypeUint16}},
	},
}
