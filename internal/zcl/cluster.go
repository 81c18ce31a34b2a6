package zcl

// Access flags
const (
	AccessRead   uint8 = 0x01
	AccessWrite  uint8 = 0x02
	AccessReport uint8 = 0x04
	AccessScene  uint8 = 0x08
)

// AttributeDef defines a ZCL attribute.
type AttributeDef struct {
	ID        uint16 `json:"id"`
	Name      string `json:"name"`
	Type      uint8  `json:"type"`
	Access    uint8  `json:"access"` // bitmask: 1=read, 2=write, 4=reportable, 8=scene
	Mandatory bool   `json:"mandatory,omitempty"`
}

// IsReadable returns true if the attribute can be read.
func (a *AttributeDef) IsReadable() bool {
	return a.Access&AccessRead != 0
}

// IsWritable returns true if the attribute can be written.
func (a *AttributeDef) IsWritable() bool {
	return a.Access&AccessWrite != 0
}

// IsReportable returns true if the attribute supports reporting.
func (a *AttributeDef) IsReportable() bool {
	return a.Access&AccessReport != 0
}

// CommandDirection indicates the direction of a cluster command.
type CommandDirection string

const (
	DirectionToServer CommandDirection = "toServer"
	DirectionToClient CommandDirection = "toClient"
)

// CommandDef defines a cluster-specific command: its parameter wire types
// in order, and the command id of the expected reply when there is one.
type CommandDef struct {
	ID          uint8            `json:"id"`
	Name        string           `json:"name"`
	Direction   CommandDirection `json:"direction"`
	Params      []uint8          `json:"params,omitempty"` // ZCL wire type per parameter
	Response    uint8            `json:"response,omitempty"`
	HasResponse bool             `json:"has_response,omitempty"`
}

// ClusterDef defines a ZCL cluster with its attributes and commands.
// Manufacturer is zero for standard clusters.
type ClusterDef struct {
	ID           uint16         `json:"id"`
	Name         string         `json:"name"`
	Manufacturer uint16         `json:"manufacturer,omitempty"`
	Attributes   []AttributeDef `json:"attributes,omitempty"`
	Commands     []CommandDef   `json:"commands,omitempty"`
}

// FindAttribute looks up an attribute by ID.
func (c *ClusterDef) FindAttribute(id uint16) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

// FindCommand looks up a command by ID and direction.
func (c *ClusterDef) FindCommand(id uint8, dir CommandDirection) *CommandDef {
	for i := range c.Commands {
		if c.Commands[i].ID == id && c.Commands[i].Direction == dir {
			return &c.Commands[i]
		}
	}
	return nil
}

// DecodeCommand decodes a cluster-specific command payload against the
// command's parameter schema. Extra trailing bytes are ignored, matching
// devices that append vendor fields.
func (c *ClusterDef) DecodeCommand(id uint8, dir CommandDirection, payload []byte) ([]interface{}, error) {
	cmd := c.FindCommand(id, dir)
	if cmd == nil {
		return nil, ErrUnknownTypeCode
	}
	values := make([]interface{}, 0, len(cmd.Params))
	for _, typeID := range cmd.Params {
		v, n, err := DecodeValue(typeID, payload)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		payload = payload[n:]
	}
	return values, nil
}

// EncodeCommand packs parameter values against the command's schema.
func (c *ClusterDef) EncodeCommand(id uint8, dir CommandDirection, values []interface{}) ([]byte, error) {
	cmd := c.FindCommand(id, dir)
	if cmd == nil {
		return nil, ErrUnknownTypeCode
	}
	if len(values) != len(cmd.Params) {
		return nil, ErrValueOutOfRange
	}
	var out []byte
	for i, typeID := range cmd.Params {
		b, err := EncodeValue(typeID, values[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DeepCopy returns a deep copy of the cluster definition.
func (c *ClusterDef) DeepCopy() *ClusterDef {
	cp := *c
	if c.Attributes != nil {
		cp.Attributes = make([]AttributeDef, len(c.Attributes))
		copy(cp.Attributes, c.Attributes)
	}
	if c.Commands != nil {
		cp.Commands = make([]CommandDef, len(c.Commands))
		copy(cp.Commands, c.Commands)
		for i := range cp.Commands {
			if c.Commands[i].Params != nil {
				cp.Commands[i].Params = append([]uint8(nil), c.Commands[i].Params...)
			}
		}
	}
	return &cp
}

// Merge adds attributes and commands from another definition (for
// manufacturer overlays).
func (c *ClusterDef) Merge(other *ClusterDef) {
	for _, attr := range other.Attributes {
		if c.FindAttribute(attr.ID) == nil {
			c.Attributes = append(c.Attributes, attr)
		}
	}
	for _, cmd := range other.Commands {
		if c.FindCommand(cmd.ID, cmd.Direction) == nil {
			c.Commands = append(c.Commands, cmd)
		}
	}
}
