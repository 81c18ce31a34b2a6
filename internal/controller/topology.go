package controller

import (
	"context"
	"time"

	"zigbee-appd/internal/appdb"
	"zigbee-appd/internal/radio"
	"zigbee-appd/internal/zdo"
)

// Topology scan cadence. Routers are scanned one at a time to keep the
// network quiet.
const (
	topologyScanInterval = 4 * time.Hour
	topologyScanDelay    = 2 * time.Second
)

// StartTopologyScanner launches the periodic Mgmt_Lqi/Mgmt_Rtg scan
// refreshing the neighbors and routes tables.
func (c *Controller) StartTopologyScanner() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(topologyScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.ScanTopology(c.ctx)
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// ScanTopology walks every initialized router and refreshes its neighbor
// and routing tables.
func (c *Controller) ScanTopology(ctx context.Context) {
	for _, dev := range c.Devices() {
		if dev.Status() != StatusInitialized {
			continue
		}
		nd := dev.NodeDescriptor()
		if nd == nil || nd.LogicalType == zdo.LogicalEndDevice {
			continue
		}
		c.scanNeighbors(ctx, dev)
		c.scanRoutes(ctx, dev)
		select {
		case <-time.After(topologyScanDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) scanNeighbors(ctx context.Context, dev *Device) {
	var all []zdo.Neighbor
	for start := uint8(0); ; {
		reply, err := c.zdoRequest(ctx, dev, zdo.MgmtLqiReq, zdo.EncodeMgmtLqiReq(start), unicastTimeout)
		if err != nil {
			c.logger.Debug("mgmt lqi scan", "err", err, "ieee", FormatIEEE(dev.IEEE))
			return
		}
		status, total, _, entries, err := zdo.DecodeMgmtLqiResponse(reply)
		if err != nil || status != zdo.StatusSuccess {
			return
		}
		all = append(all, entries...)
		start += uint8(len(entries))
		if len(entries) == 0 || int(start) >= int(total) {
			break
		}
	}

	ieee := FormatIEEE(dev.IEEE)
	records := make([]appdb.NeighborRecord, 0, len(all))
	for _, n := range all {
		records = append(records, appdb.NeighborRecord{
			DeviceIEEE:    ieee,
			ExtendedPanID: FormatIEEE(radio.EUI64(n.ExtendedPanID)),
			IEEE:          FormatIEEE(radio.EUI64(n.IEEE)),
			NWK:           n.NWK,
			DeviceType:    n.DeviceType,
			RxOnWhenIdle:  n.RxOnWhenIdle,
			Relationship:  n.Relationship,
			PermitJoining: n.PermitJoining,
			Depth:         n.Depth,
			LQI:           n.LQI,
		})
	}
	if err := c.store.SaveNeighbors(ieee, records); err != nil {
		c.logger.Error("save neighbors", "err", err, "ieee", ieee)
	}
	c.logger.Debug("neighbor scan", "ieee", ieee, "neighbors", len(records))
}

func (c *Controller) scanRoutes(ctx context.Context, dev *Device) {
	var all []zdo.Route
	for start := uint8(0); ; {
		reply, err := c.zdoRequest(ctx, dev, zdo.MgmtRtgReq, zdo.EncodeMgmtRtgReq(start), unicastTimeout)
		if err != nil {
			c.logger.Debug("mgmt rtg scan", "err", err, "ieee", FormatIEEE(dev.IEEE))
			return
		}
		status, total, _, entries, err := zdo.DecodeMgmtRtgResponse(reply)
		if err != nil || status != zdo.StatusSuccess {
			return
		}
		all = append(all, entries...)
		start += uint8(len(entries))
		if len(entries) == 0 || int(start) >= int(total) {
			break
		}
	}

	ieee := FormatIEEE(dev.IEEE)
	records := make([]appdb.RouteRecord, 0, len(all))
	for _, r := range all {
		records = append(records, appdb.RouteRecord{
			DeviceIEEE:          ieee,
			DstNWK:              r.DstNWK,
			RouteStatus:         r.RouteStatus,
			MemoryConstrained:   r.MemoryConstrained,
			ManyToOne:           r.ManyToOne,
			RouteRecordRequired: r.RouteRecordRequired,
			NextHop:             r.NextHop,
		})
	}
	if err := c.store.SaveRoutes(ieee, records); err != nil {
		c.logger.Error("save routes", "err", err, "ieee", ieee)
	}
	c.logger.Debug("route scan", "ieee", ieee, "routes", len(records))
}
