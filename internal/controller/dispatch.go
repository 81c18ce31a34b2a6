package controller

import (
	"context"
	"fmt"
	"time"

	"zigbee-appd/internal/radio"
	"zigbee-appd/internal/zcl"
	"zigbee-appd/internal/zdo"
)

// PacketReceived is the radio's entry point for inbound APS frames. It
// runs on the radio's receive goroutine; handlers must not block it.
// Malformed frames are logged and dropped here and never reach
// listeners.
func (c *Controller) PacketReceived(pkt radio.Packet) {
	if pkt.ProfileID == 0x0000 {
		c.handleZDOPacket(pkt)
		return
	}

	dev := c.deviceForPacket(pkt)
	if dev == nil {
		c.logger.Debug("frame from unknown device", "nwk", fmt.Sprintf("0x%04X", pkt.SrcNWK),
			"cluster", fmt.Sprintf("0x%04X", pkt.ClusterID))
		return
	}
	dev.markSeen()

	frame, err := zcl.UnmarshalFrame(pkt.Data)
	if err != nil {
		c.logger.Warn("drop malformed zcl frame", "err", err, "nwk", fmt.Sprintf("0x%04X", pkt.SrcNWK))
		return
	}

	// Replies to our own outstanding requests resolve their waiter and go
	// no further.
	if frame.Header.Direction == zcl.DirectionServerToClient || isGlobalResponse(frame) {
		if c.resolvePending(frame.Header.TSN, pkt.SrcNWK, pkt.ClusterID, false, pkt.Data) {
			return
		}
	}

	if frame.Header.FrameType == zcl.FrameTypeGlobal {
		c.handleGeneralCommand(dev, c.clusterForPacket(dev, pkt), pkt, frame)
		return
	}
	c.handleClusterCommand(dev, pkt, frame)
}

func (c *Controller) deviceForPacket(pkt radio.Packet) *Device {
	if pkt.SrcIEEE != (radio.EUI64{}) {
		if dev := c.DeviceByIEEE(pkt.SrcIEEE); dev != nil {
			return dev
		}
	}
	return c.DeviceByNWK(pkt.SrcNWK)
}

// clusterForPacket finds or lazily creates the cluster entity a frame
// addresses. Frames for endpoints we never interviewed still get a home
// so their data is not lost.
func (c *Controller) clusterForPacket(dev *Device, pkt radio.Packet) *Cluster {
	dev.mu.Lock()
	ep := dev.endpoints[pkt.SrcEP]
	if ep == nil {
		ep = newEndpoint(dev, pkt.SrcEP)
		dev.endpoints[pkt.SrcEP] = ep
	}
	dev.mu.Unlock()

	if cl := ep.InCluster(pkt.ClusterID); cl != nil {
		return cl
	}
	if cl := ep.OutCluster(pkt.ClusterID); cl != nil {
		return cl
	}
	return ep.addCluster(pkt.ClusterID, ClusterIn)
}

func isGlobalResponse(frame *zcl.Frame) bool {
	if frame.Header.FrameType != zcl.FrameTypeGlobal {
		return false
	}
	switch frame.Header.CommandID {
	case zcl.CmdReadAttributesResponse, zcl.CmdWriteAttributesResponse,
		zcl.CmdConfigureReportingResp, zcl.CmdReadReportingConfigResp,
		zcl.CmdDefaultResponse, zcl.CmdDiscoverAttributesResp,
		zcl.CmdDiscoverCommandsReceivedResp, zcl.CmdDiscoverCommandsGeneratedResp,
		zcl.CmdDiscoverAttributesExtResp:
		return true
	}
	return false
}

// handleGeneralCommand processes inbound foundation commands that are
// requests or unsolicited reports from the device.
func (c *Controller) handleGeneralCommand(dev *Device, cluster *Cluster, pkt radio.Packet, frame *zcl.Frame) {
	var explicit *zcl.Frame
	status := zcl.StatusSuccess

	switch frame.Header.CommandID {
	case zcl.CmdReportAttributes:
		records, err := zcl.DecodeWriteAttributes(frame.Payload)
		if err != nil {
			c.logger.Warn("drop malformed attribute report", "err", err, "ieee", FormatIEEE(dev.IEEE))
			return
		}
		cluster.handleReport(records)

	case zcl.CmdWriteAttributes, zcl.CmdWriteAttributesUndivided, zcl.CmdWriteAttributesNoResponse:
		records, err := zcl.DecodeWriteAttributes(frame.Payload)
		if err != nil {
			c.logger.Warn("drop malformed write attributes", "err", err, "ieee", FormatIEEE(dev.IEEE))
			return
		}
		// attribute_updated listeners observe the write before the sender
		// sees the acknowledgement.
		now := time.Now()
		for _, r := range records {
			cluster.UpdateAttribute(r.AttrID, r.Value, now)
		}
		if frame.Header.CommandID != zcl.CmdWriteAttributesNoResponse {
			explicit = &zcl.Frame{
				Header: zcl.Header{
					FrameType:          zcl.FrameTypeGlobal,
					Manufacturer:       frame.Header.Manufacturer,
					ManufacturerSet:    frame.Header.ManufacturerSet,
					Direction:          1 - frame.Header.Direction,
					DisableDefaultResp: true,
					TSN:                frame.Header.TSN,
					CommandID:          zcl.CmdWriteAttributesResponse,
				},
				Payload: zcl.EncodeWriteAttributesResponse(nil),
			}
		}

	case zcl.CmdReadAttributes:
		ids, err := zcl.DecodeReadAttributes(frame.Payload)
		if err != nil {
			c.logger.Warn("drop malformed read attributes", "err", err, "ieee", FormatIEEE(dev.IEEE))
			return
		}
		// The coordinator serves no readable attributes of its own yet.
		records := make([]zcl.ReadAttributeRecord, 0, len(ids))
		for _, id := range ids {
			records = append(records, zcl.ReadAttributeRecord{AttrID: id, Status: zcl.StatusUnsupportedAttr})
		}
		payload, err := zcl.EncodeReadAttributesResponse(records)
		if err == nil {
			explicit = &zcl.Frame{
				Header: zcl.Header{
					FrameType:          zcl.FrameTypeGlobal,
					Direction:          1 - frame.Header.Direction,
					DisableDefaultResp: true,
					TSN:                frame.Header.TSN,
					CommandID:          zcl.CmdReadAttributesResponse,
				},
				Payload: payload,
			}
		}

	case zcl.CmdDefaultResponse:
		// Nothing to do beyond logging; replies were matched earlier.
		if dr, err := zcl.DecodeDefaultResponse(frame.Payload); err == nil && dr.Status != zcl.StatusSuccess {
			c.logger.Debug("default response", "ieee", FormatIEEE(dev.IEEE),
				"command", fmt.Sprintf("0x%02X", dr.CommandID), "status", fmt.Sprintf("0x%02X", dr.Status))
		}
		return

	default:
		status = zcl.StatusUnsupCommand
	}

	c.events.Emit(Event{Type: EventGeneralCommand, Data: map[string]interface{}{
		"ieee":       FormatIEEE(dev.IEEE),
		"endpoint":   pkt.SrcEP,
		"cluster_id": pkt.ClusterID,
		"command_id": frame.Header.CommandID,
		"tsn":        frame.Header.TSN,
	}})

	c.respond(dev, pkt, frame, explicit, status)
}

// handleClusterCommand resolves a cluster-specific command against the
// registry and fans it out.
func (c *Controller) handleClusterCommand(dev *Device, pkt radio.Packet, frame *zcl.Frame) {
	def := c.registry.GetManufacturer(frame.Header.Manufacturer, pkt.ClusterID)
	if def == nil {
		// Unknown cluster: deliver the raw frame, no response of any kind.
		c.events.Emit(Event{Type: EventUnknownClusterMessage, Data: map[string]interface{}{
			"ieee":       FormatIEEE(dev.IEEE),
			"endpoint":   pkt.SrcEP,
			"cluster_id": pkt.ClusterID,
			"command_id": frame.Header.CommandID,
			"payload":    append([]byte(nil), frame.Payload...),
		}})
		return
	}

	// A registered server (e.g. the OTA engine) may answer with a
	// command-specific response.
	c.serverMu.RLock()
	server := c.clusterServers[pkt.ClusterID]
	c.serverMu.RUnlock()

	var explicit *zcl.Frame
	if server != nil {
		explicit = server.HandleClusterCommand(dev, pkt.SrcEP, frame)
	}

	values, _ := def.DecodeCommand(frame.Header.CommandID, zcl.DirectionToServer, frame.Payload)
	c.events.Emit(Event{Type: EventClusterCommand, Data: map[string]interface{}{
		"ieee":       FormatIEEE(dev.IEEE),
		"endpoint":   pkt.SrcEP,
		"cluster_id": pkt.ClusterID,
		"command_id": frame.Header.CommandID,
		"tsn":        frame.Header.TSN,
		"params":     values,
		"payload":    append([]byte(nil), frame.Payload...),
	}})

	c.respond(dev, pkt, frame, explicit, zcl.StatusSuccess)
}

// respond applies the default-response policy: a command-specific
// response suppresses the default response; otherwise one is sent iff
// the request allowed it.
func (c *Controller) respond(dev *Device, pkt radio.Packet, request *zcl.Frame, explicit *zcl.Frame, status uint8) {
	ctx, cancel := context.WithTimeout(c.ctx, unicastTimeout)
	defer cancel()

	if explicit != nil {
		if err := c.radio.Request(ctx, dev.NWK(), dev.IEEE, pkt.ProfileID, pkt.ClusterID,
			pkt.DstEP, pkt.SrcEP, explicit.Header.TSN, explicit.Marshal()); err != nil {
			c.logger.Warn("send response", "err", err, "ieee", FormatIEEE(dev.IEEE))
		}
		return
	}
	if !request.NeedsDefaultResponse() {
		return
	}
	dr := request.DefaultResponseFrame(status)
	if err := c.radio.Request(ctx, dev.NWK(), dev.IEEE, pkt.ProfileID, pkt.ClusterID,
		pkt.DstEP, pkt.SrcEP, dr.Header.TSN, dr.Marshal()); err != nil {
		c.logger.Warn("send default response", "err", err, "ieee", FormatIEEE(dev.IEEE))
	}
}

// handleZDOPacket dispatches profile-0 frames: indications and replies
// to our management requests.
func (c *Controller) handleZDOPacket(pkt radio.Packet) {
	frame, err := zdo.UnmarshalFrame(pkt.Data)
	if err != nil {
		c.logger.Warn("drop malformed zdo frame", "err", err, "nwk", fmt.Sprintf("0x%04X", pkt.SrcNWK))
		return
	}

	switch pkt.ClusterID {
	case zdo.DeviceAnnce:
		da, err := zdo.UnmarshalDeviceAnnounce(frame.Payload)
		if err != nil {
			c.logger.Warn("drop malformed device announce", "err", err)
			return
		}
		c.handleAnnounce(da)
		return
	}

	if pkt.ClusterID&zdo.ResponseBit != 0 {
		if c.resolvePending(frame.TSN, pkt.SrcNWK, pkt.ClusterID, true, frame.Payload) {
			if dev := c.DeviceByNWK(pkt.SrcNWK); dev != nil {
				dev.markSeen()
			}
			return
		}
		c.logger.Debug("unmatched zdo response", "cluster", fmt.Sprintf("0x%04X", pkt.ClusterID),
			"tsn", frame.TSN, "nwk", fmt.Sprintf("0x%04X", pkt.SrcNWK))
	}
}

// handleAnnounce processes Device_annce: refresh addressing and restart
// an interview for devices that never finished one.
func (c *Controller) handleAnnounce(da *zdo.DeviceAnnounce) {
	ieee := radio.EUI64(da.IEEE)
	ieeeStr := FormatIEEE(ieee)

	c.mu.Lock()
	dev, known := c.devices[ieee]
	if known {
		old := dev.NWK()
		if old != da.NWK {
			delete(c.nwkIndex, old)
		}
		dev.mu.Lock()
		dev.nwk = da.NWK
		dev.lastSeen = time.Now()
		rec := dev.record()
		dev.mu.Unlock()
		c.nwkIndex[da.NWK] = ieee
		c.mu.Unlock()
		if err := c.store.SaveDevice(rec); err != nil {
			c.logger.Error("save device on announce", "err", err, "ieee", ieeeStr)
		}
	} else {
		dev = newDevice(c, ieee, da.NWK)
		c.devices[ieee] = dev
		c.nwkIndex[da.NWK] = ieee
		c.mu.Unlock()
		if err := c.store.SaveDevice(dev.record()); err != nil {
			c.logger.Error("save device on announce", "err", err, "ieee", ieeeStr)
		}
	}

	c.events.Emit(Event{Type: EventDeviceAnnounce, Data: map[string]interface{}{
		"ieee":       ieeeStr,
		"nwk":        da.NWK,
		"capability": da.Capability,
	}})

	if dev.Status() != StatusInitialized {
		c.startInterview(dev)
	}
}
