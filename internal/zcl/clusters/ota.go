package clusters

import "zigbee-appd/internal/zcl"

var OTAUpgrade = zcl.ClusterDef{
	ID:   0x0019,
	Name: "OTA Upgrade",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "UpgradeServerID", Type: zcl.TypeEUI64, Access: zcl.AccessRead, Mandatory: true},
		{ID: 0x0001, Name: "FileOffset", Type: zcl.TypeUint32, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "CurrentFileVersion", Type: zcl.TypeUint32, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "CurrentZigbeeStackVersion", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0004, Name: "DownloadedFileVersion", Type: zcl.TypeUint32, Access: zcl.AccessRead},
		{ID: 0x0006, Name: "ImageUpgradeStatus", Type: zcl.TypeEnum8, Access: zcl.AccessRead, Mandatory: true},
		{ID: 0x0007, Name: "ManufacturerID", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0008, Name: "ImageTypeID", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0009, Name: "MinimumBlockPeriod", Type: zcl.TypeUint16, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "ImageNotify", Direction: zcl.DirectionToClient, Params: []uint8{zcl.TypeEnum8, zcl.TypeUint8}},
		{ID: 0x01, Name: "QueryNextImageRequest", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeBitmap8, zcl.TypeUint16, zcl.TypeUint16, zcl.TypeUint32}, Response: 0x02, HasResponse: true},
		{ID: 0x02, Name: "QueryNextImageResponse", Direction: zcl.DirectionToClient},
		{ID: 0x03, Name: "ImageBlockRequest", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeBitmap8, zcl.TypeUint16, zcl.TypeUint16, zcl.TypeUint32, zcl.TypeUint32, zcl.TypeUint8}, Response: 0x05, HasResponse: true},
		{ID: 0x05, Name: "ImageBlockResponse", Direction: zcl.DirectionToClient},
		{ID: 0x06, Name: "UpgradeEndRequest", Direction: zcl.DirectionToServer, Params: []uint8{zcl.TypeEnum8, zcl.TypeUint16, zcl.TypeUint16, zcl.TypeUint32}, Response: 0x07, HasResponse: true},
		{ID: 0x07, Name: "UpgradeEndResponse", Direction: zcl.DirectionToClient, Params: []uint8{zcl.TypeUint16, zcl.TypeUint16, zcl.TypeUint32, zcl.TypeUTC, zcl.TypeUTC}},
	},
}
