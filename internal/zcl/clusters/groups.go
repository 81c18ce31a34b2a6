package clusters

import "zigbee-appd/internal/zcl"

var Groups = zcl.ClusterDef{
	ID:   0x0004,
	Name: "Groups",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "NameSupport", Type: zcl.TypeBitmap8, Access: zcl.AccessRead, Mandatory: true},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "AddGroup", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeUint16, zcl.TypeCharStr}, Response: 0x00, HasResponse: true},
		{ID: 0x01, Name: "ViewGroup", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeUint16}, Response: 0x01, HasResponse: true},
		{ID: 0x02, Name: "GetGroupMembership", Direction: zcl.DirectionToServer, Response: 0x02, HasResponse: true},
		{ID: 0x03, Name: "RemoveGroup", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeUint16}, Response: 0x03, HasResponse: true},
		{ID: 0x04, Name: "RemoveAllGroups", Direction: zcl.DirectionToServer},
		{ID: 0x05, Name: "AddGroupIfIdentifying", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeUint16, zcl.TypeCharStr}},
		{ID: 0x00, Name: "AddGroupResponse", Direction: zcl.DirectionToClient, Params: []uint8{zcl.TypeEnum8, zcl.TypeUint16}},
		{ID: 0x01, Name: "ViewGroupResponse", Direction: zcl.DirectionToClient, Params: []uint8{zcl.TypeEnum8, zcl.TypeUint16, zcl.TypeCharStr}},
		{ID: 0x03, Name: "RemoveGroupResponse", Direction: zcl.DirectionToClient, Params: []uint8{zcl.TypeEnum8, zcl.TypeUint16}},
	},
}
