package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zigbee-appd/internal/appdb"
	"zigbee-appd/internal/zcl"
	"zigbee-appd/internal/zdo"
)

// ClusterDirection distinguishes server (in) from client (out) clusters
// on an endpoint.
type ClusterDirection uint8

const (
	ClusterIn ClusterDirection = iota
	ClusterOut
)

const unicastTimeout = 10 * time.Second

// Cluster is one cluster instance on an endpoint: its attribute cache,
// unsupported-attribute set and request helpers.
type Cluster struct {
	endpoint  *Endpoint
	ID        uint16
	Direction ClusterDirection

	mu          sync.RWMutex
	cache       map[uint16]zcl.TypeValue
	cacheTime   map[uint16]time.Time
	unsupported map[uint16]struct{}
	reports     []zcl.ReportingConfig
}

func newCluster(ep *Endpoint, id uint16, dir ClusterDirection) *Cluster {
	return &Cluster{
		endpoint:    ep,
		ID:          id,
		Direction:   dir,
		cache:       make(map[uint16]zcl.TypeValue),
		cacheTime:   make(map[uint16]time.Time),
		unsupported: make(map[uint16]struct{}),
	}
}

// Definition returns the registry schema for this cluster, or nil for
// unknown clusters.
func (c *Cluster) Definition() *zcl.ClusterDef {
	ctrl := c.endpoint.device.ctrl
	var manufacturer uint16
	if nd := c.endpoint.device.NodeDescriptor(); nd != nil {
		manufacturer = nd.ManufacturerCode
	}
	return ctrl.registry.GetManufacturer(manufacturer, c.ID)
}

// Cached returns the cached value for an attribute.
func (c *Cluster) Cached(attrID uint16) (zcl.TypeValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tv, ok := c.cache[attrID]
	return tv, ok
}

// IsUnsupported reports whether the device marked the attribute
// unsupported earlier.
func (c *Cluster) IsUnsupported(attrID uint16) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.unsupported[attrID]
	return ok
}

// UpdateAttribute stores an observed attribute value, writes it through
// and emits attribute_updated. Older observations never overwrite newer
// ones.
func (c *Cluster) UpdateAttribute(attrID uint16, tv zcl.TypeValue, observed time.Time) {
	c.mu.Lock()
	if prev, ok := c.cacheTime[attrID]; ok && observed.Before(prev) {
		c.mu.Unlock()
		return
	}
	c.cache[attrID] = tv
	c.cacheTime[attrID] = observed
	c.mu.Unlock()

	ctrl := c.endpoint.device.ctrl
	ieee := FormatIEEE(c.endpoint.device.IEEE)

	encoded, err := zcl.EncodeValue(tv.Type, tv.Value)
	if err != nil {
		ctrl.logger.Warn("encode attribute for persistence", "err", err,
			"ieee", ieee, "cluster", fmt.Sprintf("0x%04X", c.ID), "attr", fmt.Sprintf("0x%04X", attrID))
		encoded = nil
	}
	if err := ctrl.store.SaveAttribute(appdb.AttributeRecord{
		IEEE:        ieee,
		EndpointID:  c.endpoint.ID,
		ClusterID:   c.ID,
		AttrID:      attrID,
		Type:        tv.Type,
		Value:       encoded,
		LastUpdated: observed,
	}); err != nil {
		ctrl.logger.Error("save attribute", "err", err, "ieee", ieee)
	}

	attrName := fmt.Sprintf("0x%04X", attrID)
	clusterName := fmt.Sprintf("0x%04X", c.ID)
	if def := c.Definition(); def != nil {
		clusterName = def.Name
		if attr := def.FindAttribute(attrID); attr != nil {
			attrName = attr.Name
		}
	}

	ctrl.events.Emit(Event{Type: EventAttributeUpdated, Data: map[string]interface{}{
		"ieee":         ieee,
		"endpoint":     c.endpoint.ID,
		"cluster_id":   c.ID,
		"cluster_name": clusterName,
		"attr_id":      attrID,
		"attr_name":    attrName,
		"value":        tv.Value,
		"type":         tv.Type,
	}})
}

// markUnsupported records an UNSUPPORTED_ATTRIBUTE result so the
// attribute is not queried again.
func (c *Cluster) markUnsupported(attrID uint16) {
	c.mu.Lock()
	if _, ok := c.unsupported[attrID]; ok {
		c.mu.Unlock()
		return
	}
	c.unsupported[attrID] = struct{}{}
	c.mu.Unlock()

	ctrl := c.endpoint.device.ctrl
	if err := ctrl.store.SaveUnsupportedAttribute(appdb.UnsupportedAttributeRecord{
		IEEE:       FormatIEEE(c.endpoint.device.IEEE),
		EndpointID: c.endpoint.ID,
		ClusterID:  c.ID,
		AttrID:     attrID,
	}); err != nil {
		ctrl.logger.Error("save unsupported attribute", "err", err)
	}
}

// request sends a ZCL frame to this cluster and optionally awaits the
// reply frame.
func (c *Cluster) request(ctx context.Context, frame *zcl.Frame, expectReply bool) (*zcl.Frame, error) {
	ctrl := c.endpoint.device.ctrl
	dev := c.endpoint.device

	reply, err := ctrl.Request(ctx, dev, c.endpoint.ProfileID(), c.ID, 1, c.endpoint.ID,
		frame.Header.TSN, frame.Marshal(), expectReply, unicastTimeout)
	if err != nil {
		return nil, err
	}
	if !expectReply {
		return nil, nil
	}
	parsed, err := zcl.UnmarshalFrame(reply)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidResponse)
	}
	return parsed, nil
}

// newFrame builds a foundation frame addressed at this cluster.
func (c *Cluster) newFrame(commandID uint8, payload []byte) *zcl.Frame {
	return &zcl.Frame{
		Header: zcl.Header{
			FrameType: zcl.FrameTypeGlobal,
			Direction: zcl.DirectionClientToServer,
			TSN:       c.endpoint.device.ctrl.NextSeq(),
			CommandID: commandID,
		},
		Payload: payload,
	}
}

// ReadAttributes reads attributes from the device, consults the
// unsupported set first, updates the cache and returns the decoded
// values.
func (c *Cluster) ReadAttributes(ctx context.Context, attrIDs []uint16) (map[uint16]zcl.TypeValue, error) {
	ask := make([]uint16, 0, len(attrIDs))
	for _, id := range attrIDs {
		if !c.IsUnsupported(id) {
			ask = append(ask, id)
		}
	}
	if len(ask) == 0 {
		return nil, ErrAttributeNotSupported
	}

	reply, err := c.request(ctx, c.newFrame(zcl.CmdReadAttributes, zcl.EncodeReadAttributes(ask)), true)
	if err != nil {
		return nil, err
	}
	if reply.Header.CommandID != zcl.CmdReadAttributesResponse {
		return nil, fmt.Errorf("command 0x%02X in reply: %w", reply.Header.CommandID, ErrInvalidResponse)
	}
	records, err := zcl.DecodeReadAttributesResponse(reply.Payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	values := make(map[uint16]zcl.TypeValue, len(records))
	for _, r := range records {
		switch r.Status {
		case zcl.StatusSuccess:
			values[r.AttrID] = r.Value
			c.UpdateAttribute(r.AttrID, r.Value, now)
		case zcl.StatusUnsupportedAttr:
			c.markUnsupported(r.AttrID)
		}
	}
	return values, nil
}

// WriteAttributes writes attributes on the device. Failed attribute ids
// are returned with their status.
func (c *Cluster) WriteAttributes(ctx context.Context, records []zcl.WriteAttributeRecord) ([]zcl.WriteAttributeStatus, error) {
	if len(records) == 0 {
		return nil, ErrBadArgument
	}
	payload, err := zcl.EncodeWriteAttributes(records)
	if err != nil {
		return nil, err
	}
	reply, err := c.request(ctx, c.newFrame(zcl.CmdWriteAttributes, payload), true)
	if err != nil {
		return nil, err
	}
	if reply.Header.CommandID != zcl.CmdWriteAttributesResponse {
		return nil, fmt.Errorf("command 0x%02X in reply: %w", reply.Header.CommandID, ErrInvalidResponse)
	}
	statuses, err := zcl.DecodeWriteAttributesResponse(reply.Payload)
	if err != nil {
		return nil, err
	}
	// Successful writes update the cache immediately.
	failed := make(map[uint16]struct{}, len(statuses))
	for _, s := range statuses {
		failed[s.AttrID] = struct{}{}
	}
	now := time.Now()
	for _, r := range records {
		if _, ok := failed[r.AttrID]; !ok {
			c.UpdateAttribute(r.AttrID, r.Value, now)
		}
	}
	return statuses, nil
}

// ConfigureReporting sets up attribute reporting and remembers the
// configuration.
func (c *Cluster) ConfigureReporting(ctx context.Context, configs []zcl.ReportingConfig) error {
	if len(configs) == 0 {
		return ErrBadArgument
	}
	payload, err := zcl.EncodeConfigureReporting(configs)
	if err != nil {
		return err
	}
	reply, err := c.request(ctx, c.newFrame(zcl.CmdConfigureReporting, payload), true)
	if err != nil {
		return err
	}
	if reply.Header.CommandID != zcl.CmdConfigureReportingResp {
		return fmt.Errorf("command 0x%02X in reply: %w", reply.Header.CommandID, ErrInvalidResponse)
	}
	c.mu.Lock()
	c.reports = append(c.reports, configs...)
	c.mu.Unlock()
	return nil
}

// Command sends a cluster-specific command, encoding parameters against
// the registry schema. A command with a declared response awaits it.
func (c *Cluster) Command(ctx context.Context, commandID uint8, params ...interface{}) (*zcl.Frame, error) {
	def := c.Definition()
	if def == nil {
		return nil, ErrUnsupportedCluster
	}
	cmd := def.FindCommand(commandID, zcl.DirectionToServer)
	if cmd == nil {
		return nil, fmt.Errorf("command 0x%02X: %w", commandID, ErrBadArgument)
	}
	payload, err := def.EncodeCommand(commandID, zcl.DirectionToServer, params)
	if err != nil {
		return nil, err
	}
	frame := &zcl.Frame{
		Header: zcl.Header{
			FrameType: zcl.FrameTypeCluster,
			Direction: zcl.DirectionClientToServer,
			TSN:       c.endpoint.device.ctrl.NextSeq(),
			CommandID: commandID,
		},
		Payload: payload,
	}
	return c.request(ctx, frame, cmd.HasResponse)
}

// handleReport processes an inbound Report Attributes frame.
func (c *Cluster) handleReport(records []zcl.WriteAttributeRecord) {
	now := time.Now()
	for _, r := range records {
		c.UpdateAttribute(r.AttrID, r.Value, now)
	}
}

// restoreAttribute loads one attribute cache row after reload.
func (c *Cluster) restoreAttribute(rec appdb.AttributeRecord) {
	val, _, err := zcl.DecodeValue(rec.Type, rec.Value)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.cache[rec.AttrID] = zcl.TypeValue{Type: rec.Type, Value: val}
	c.cacheTime[rec.AttrID] = rec.LastUpdated
	c.mu.Unlock()
}

func (c *Cluster) restoreUnsupported(attrID uint16) {
	c.mu.Lock()
	c.unsupported[attrID] = struct{}{}
	c.mu.Unlock()
}

// Bind creates a binding from this cluster to the coordinator so the
// device pushes reports our way.
func (c *Cluster) Bind(ctx context.Context) error {
	return c.sendBind(ctx, zdo.BindReq)
}

// Unbind removes the coordinator binding.
func (c *Cluster) Unbind(ctx context.Context) error {
	return c.sendBind(ctx, zdo.UnbindReq)
}

func (c *Cluster) sendBind(ctx context.Context, req uint16) error {
	ctrl := c.endpoint.device.ctrl
	bind := &zdo.Bind{
		SrcIEEE:     c.endpoint.device.IEEE,
		SrcEP:       c.endpoint.ID,
		ClusterID:   c.ID,
		DstAddrMode: zdo.AddrModeIEEE,
		DstIEEE:     ctrl.radio.NodeInfo().IEEE,
		DstEP:       1,
	}
	reply, err := ctrl.zdoRequest(ctx, c.endpoint.device, req, bind.Marshal(), unicastTimeout)
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != zdo.StatusSuccess {
		return fmt.Errorf("bind status: %w", ErrInvalidResponse)
	}
	return nil
}
