// Package controller is the application-layer orchestrator: it owns the
// device table, dispatches inbound APS frames to the right cluster,
// serializes outbound requests behind a transaction sequence number
// allocator and fans out events to listeners.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zigbee-appd/internal/appdb"
	"zigbee-appd/internal/radio"
	"zigbee-appd/internal/zcl"
	"zigbee-appd/internal/zdo"
)

// NetworkConfig carries the parameters used when auto-forming and for
// backup/restore.
type NetworkConfig struct {
	Channel       uint8
	ChannelMask   uint32
	PanID         uint16
	ExtendedPanID radio.EUI64
	NetworkKey    [16]byte
	NetworkKeySeq uint8
	TCLinkKey     [16]byte
	TCAddress     radio.EUI64
	UpdateID      uint8
}

// Config is the controller's own configuration surface.
type Config struct {
	Network       NetworkConfig
	SourceRouting bool
	AutoForm      bool
}

// ClusterServer handles inbound cluster-specific commands for a cluster
// the coordinator serves itself (e.g. OTA upgrade). Returning a non-nil
// frame sends it as the command-specific response and suppresses the
// default response.
type ClusterServer interface {
	HandleClusterCommand(dev *Device, srcEP uint8, frame *zcl.Frame) *zcl.Frame
}

type pendingReply struct {
	tsn     uint16 // same value as the uint8 table key; ZDO and ZCL share that key space and are told apart by zdo
	nwk     uint16
	cluster uint16
	zdo     bool
	ch      chan []byte
}

// Controller is the central orchestrator.
type Controller struct {
	radio    radio.Radio
	registry *zcl.Registry
	store    appdb.Store
	events   *EventBus
	logger   *slog.Logger
	cfg      Config

	mu       sync.RWMutex
	devices  map[radio.EUI64]*Device
	nwkIndex map[uint16]radio.EUI64

	groups *Groups

	tsnMu   sync.Mutex
	tsn     uint8
	pending map[uint8]*pendingReply

	serverMu       sync.RWMutex
	clusterServers map[uint16]ClusterServer

	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a controller. Call Start to bring the network up.
func New(r radio.Radio, registry *zcl.Registry, store appdb.Store, cfg Config, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		radio:          r,
		registry:       registry,
		store:          store,
		events:         NewEventBus(logger),
		logger:         logger.With("component", "controller"),
		cfg:            cfg,
		devices:        make(map[radio.EUI64]*Device),
		nwkIndex:       make(map[uint16]radio.EUI64),
		pending:        make(map[uint8]*pendingReply),
		clusterServers: make(map[uint16]ClusterServer),
		ctx:            ctx,
		cancel:         cancel,
	}
	c.groups = newGroups(c)
	r.SetHandler(c)
	return c
}

// Events returns the event bus.
func (c *Controller) Events() *EventBus {
	return c.events
}

// Groups returns the group table.
func (c *Controller) Groups() *Groups {
	return c.groups
}

// Registry returns the cluster registry.
func (c *Controller) Registry() *zcl.Registry {
	return c.registry
}

// SetClusterServer installs a handler for a cluster the coordinator
// serves itself. Must be called before Start.
func (c *Controller) SetClusterServer(clusterID uint16, h ClusterServer) {
	c.serverMu.Lock()
	defer c.serverMu.Unlock()
	c.clusterServers[clusterID] = h
}

// Start loads the device tree from persistence and brings the radio up,
// forming the network when autoForm is set.
func (c *Controller) Start(ctx context.Context, autoForm bool) error {
	snap, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load device tree: %w", err)
	}
	c.loadSnapshot(snap)

	if err := c.radio.Startup(ctx, autoForm); err != nil {
		return fmt.Errorf("%v: %w", err, ErrRadioUnavailable)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	c.logger.Info("network up", "devices", len(c.devices))
	return nil
}

// Shutdown flushes persistence and releases the radio.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	if err := c.store.Flush(); err != nil {
		c.logger.Error("flush on shutdown", "err", err)
	}
	return c.radio.Shutdown(ctx)
}

// Permit opens the network for joining for duration seconds, optionally
// targeting a single node. Zero closes it immediately.
func (c *Controller) Permit(ctx context.Context, duration uint8, node *radio.EUI64) error {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		return ErrNotInitialized
	}
	if duration > 254 {
		return fmt.Errorf("permit duration %d: %w", duration, ErrBadArgument)
	}

	if node != nil {
		dev := c.DeviceByIEEE(*node)
		if dev == nil {
			return fmt.Errorf("permit target %s: %w", FormatIEEE(*node), ErrBadArgument)
		}
		_, err := c.zdoRequest(ctx, dev, zdo.MgmtPermitJoinReq, zdo.EncodeMgmtPermitJoin(duration, true), unicastTimeout)
		if err != nil {
			return err
		}
	} else {
		seq := c.NextSeq()
		frame := &zdo.Frame{TSN: seq, Payload: zdo.EncodeMgmtPermitJoin(duration, true)}
		if err := c.radio.Broadcast(ctx, 0x0000, zdo.MgmtPermitJoinReq, 0, 0, 0, 30, seq,
			frame.Marshal(), radio.BroadcastRoutersCoord); err != nil {
			return fmt.Errorf("%v: %w", err, ErrDeliveryFailed)
		}
		if err := c.radio.PermitNCP(ctx, duration); err != nil {
			return fmt.Errorf("%v: %w", err, ErrDeliveryFailed)
		}
	}

	c.events.Emit(Event{Type: EventPermitDuration, Data: map[string]interface{}{"duration": duration}})
	return nil
}

// NextSeq allocates the next transaction sequence number, skipping ones
// still awaiting a reply so wrap-around cannot cross-deliver.
func (c *Controller) NextSeq() uint8 {
	c.tsnMu.Lock()
	defer c.tsnMu.Unlock()
	for {
		c.tsn++
		if _, busy := c.pending[c.tsn]; !busy {
			return c.tsn
		}
	}
}

func (c *Controller) registerPending(seq uint8, nwk, cluster uint16, isZDO bool) *pendingReply {
	p := &pendingReply{tsn: uint16(seq), nwk: nwk, cluster: cluster, zdo: isZDO, ch: make(chan []byte, 1)}
	c.tsnMu.Lock()
	c.pending[seq] = p
	c.tsnMu.Unlock()
	return p
}

func (c *Controller) releasePending(seq uint8) {
	c.tsnMu.Lock()
	delete(c.pending, seq)
	c.tsnMu.Unlock()
}

// resolvePending hands a reply payload to its waiter. Returns false when
// nothing matched.
func (c *Controller) resolvePending(seq uint8, nwk, cluster uint16, isZDO bool, payload []byte) bool {
	c.tsnMu.Lock()
	p, ok := c.pending[seq]
	if ok && (p.zdo != isZDO || p.nwk != nwk || p.cluster != cluster) {
		ok = false
	}
	if ok {
		delete(c.pending, seq)
	}
	c.tsnMu.Unlock()
	if !ok {
		return false
	}
	p.ch <- payload
	return true
}

// Request sends a unicast APS frame to a device and optionally awaits
// the matching reply. Requests to a single device are serialized FIFO.
func (c *Controller) Request(ctx context.Context, dev *Device, profile, cluster uint16, srcEP, dstEP, seq uint8, data []byte, expectReply bool, timeout time.Duration) ([]byte, error) {
	if dev == nil {
		return nil, ErrBadArgument
	}

	dev.sendMu.Lock()
	defer dev.sendMu.Unlock()

	var p *pendingReply
	if expectReply {
		p = c.registerPending(seq, dev.NWK(), cluster, profile == 0x0000)
		defer c.releasePending(seq)
	}

	if err := c.radio.Request(ctx, dev.NWK(), dev.IEEE, profile, cluster, srcEP, dstEP, seq, data); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrDeliveryFailed)
	}
	if !expectReply {
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-p.ch:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Broadcast sends an APS frame to a broadcast address.
func (c *Controller) Broadcast(ctx context.Context, profile, cluster uint16, srcEP, dstEP uint8, grpID, radius uint16, seq uint8, data []byte, address uint16) error {
	if err := c.radio.Broadcast(ctx, profile, cluster, srcEP, dstEP, grpID, radius, seq, data, address); err != nil {
		return fmt.Errorf("%v: %w", err, ErrDeliveryFailed)
	}
	return nil
}

// Multicast sends an APS frame to a group.
func (c *Controller) Multicast(ctx context.Context, group uint16, profile, cluster uint16, srcEP, seq uint8, data []byte) error {
	if c.groups.Get(group) == nil {
		return fmt.Errorf("group 0x%04X: %w", group, ErrBadArgument)
	}
	if err := c.radio.MRequest(ctx, group, profile, cluster, srcEP, seq, data); err != nil {
		return fmt.Errorf("%v: %w", err, ErrDeliveryFailed)
	}
	return nil
}

// zdoRequest sends a ZDO request to a device and awaits the matching
// response cluster.
func (c *Controller) zdoRequest(ctx context.Context, dev *Device, cluster uint16, payload []byte, timeout time.Duration) ([]byte, error) {
	seq := c.NextSeq()
	frame := &zdo.Frame{TSN: seq, Payload: payload}

	dev.sendMu.Lock()
	defer dev.sendMu.Unlock()

	p := c.registerPending(seq, dev.NWK(), zdo.ResponseCluster(cluster), true)
	defer c.releasePending(seq)

	if err := c.radio.Request(ctx, dev.NWK(), dev.IEEE, 0x0000, cluster, 0, 0, seq, frame.Marshal()); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrDeliveryFailed)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-p.ch:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeviceByIEEE returns a device by its IEEE address, or nil.
func (c *Controller) DeviceByIEEE(ieee radio.EUI64) *Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices[ieee]
}

// DeviceByNWK returns a device by its short address, or nil.
func (c *Controller) DeviceByNWK(nwk uint16) *Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ieee, ok := c.nwkIndex[nwk]
	if !ok {
		return nil
	}
	return c.devices[ieee]
}

// Devices returns every known device.
func (c *Controller) Devices() []*Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	return out
}

// HandleJoin is called by the radio when a device joins or rejoins. A
// rejoin updates the short address in place; the IEEE row is never
// duplicated.
func (c *Controller) HandleJoin(nwk uint16, ieee radio.EUI64, parentNWK uint16) {
	ieeeStr := FormatIEEE(ieee)

	c.mu.Lock()
	dev, known := c.devices[ieee]
	if known {
		oldNWK := dev.NWK()
		if oldNWK != nwk {
			delete(c.nwkIndex, oldNWK)
		}
		dev.mu.Lock()
		dev.nwk = nwk
		dev.lastSeen = time.Now()
		rec := dev.record()
		dev.mu.Unlock()
		c.nwkIndex[nwk] = ieee
		c.mu.Unlock()
		if err := c.store.SaveDevice(rec); err != nil {
			c.logger.Error("save device on rejoin", "err", err, "ieee", ieeeStr)
		}
	} else {
		dev = newDevice(c, ieee, nwk)
		c.devices[ieee] = dev
		c.nwkIndex[nwk] = ieee
		c.mu.Unlock()
		if err := c.store.SaveDevice(dev.record()); err != nil {
			c.logger.Error("save device on join", "err", err, "ieee", ieeeStr)
		}
	}

	c.logger.Info("device joined", "ieee", ieeeStr, "nwk", fmt.Sprintf("0x%04X", nwk), "parent", fmt.Sprintf("0x%04X", parentNWK), "rejoin", known)
	c.events.Emit(Event{Type: EventDeviceJoined, Data: map[string]interface{}{
		"ieee":       ieeeStr,
		"nwk":        nwk,
		"parent_nwk": parentNWK,
	}})

	if dev.Status() != StatusInitialized {
		c.startInterview(dev)
	}
}

func (c *Controller) startInterview(dev *Device) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, 3*time.Minute)
		defer cancel()
		dev.interview(ctx)
	}()
}

// HandleLeave is called by the radio when a device leaves the network.
func (c *Controller) HandleLeave(nwk uint16, ieee radio.EUI64) {
	ieeeStr := FormatIEEE(ieee)
	c.mu.Lock()
	dev, ok := c.devices[ieee]
	if ok {
		delete(c.devices, ieee)
		delete(c.nwkIndex, dev.NWK())
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	dev.setStatusInMemory(StatusLeft)
	c.logger.Info("device left", "ieee", ieeeStr)
	c.events.Emit(Event{Type: EventDeviceLeft, Data: map[string]interface{}{"ieee": ieeeStr}})

	c.groups.removeDevice(ieee)
	if err := c.store.DeleteDevice(ieeeStr); err != nil {
		c.logger.Error("delete device on leave", "err", err, "ieee", ieeeStr)
	}
	c.events.Emit(Event{Type: EventDeviceRemoved, Data: map[string]interface{}{"ieee": ieeeStr}})
}

// RemoveDevice evicts a device: Mgmt_Leave to the node, force-remove at
// the radio, then the same cleanup as a leave indication.
func (c *Controller) RemoveDevice(ctx context.Context, ieee radio.EUI64) error {
	dev := c.DeviceByIEEE(ieee)
	if dev == nil {
		return fmt.Errorf("device %s: %w", FormatIEEE(ieee), ErrBadArgument)
	}
	if _, err := c.zdoRequest(ctx, dev, zdo.MgmtLeaveReq, zdo.EncodeMgmtLeave(ieee, false, false), unicastTimeout); err != nil {
		c.logger.Warn("mgmt leave", "err", err, "ieee", FormatIEEE(ieee))
	}
	if err := c.radio.ForceRemove(ctx, ieee); err != nil {
		c.logger.Warn("force remove", "err", err, "ieee", FormatIEEE(ieee))
	}
	c.HandleLeave(dev.NWK(), ieee)
	return nil
}

// HandleRelaysUpdated is called by source-routing radios with a fresh
// relay list for a device.
func (c *Controller) HandleRelaysUpdated(ieee radio.EUI64, relays []uint16) {
	if !c.cfg.SourceRouting {
		return
	}
	dev := c.DeviceByIEEE(ieee)
	if dev == nil {
		return
	}
	dev.updateRelays(relays)
}

func (d *Device) setStatusInMemory(status DeviceStatus) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
}

// loadSnapshot rebuilds the in-memory tree from a persistence snapshot
// in topological order.
func (c *Controller) loadSnapshot(snap *appdb.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byIEEE := make(map[string]*Device, len(snap.Devices))
	for _, rec := range snap.Devices {
		ieee, err := ParseIEEE(rec.IEEE)
		if err != nil {
			c.logger.Warn("skip device with bad ieee", "ieee", rec.IEEE)
			continue
		}
		dev := newDevice(c, ieee, rec.NWK)
		dev.restore(rec, nil)
		c.devices[ieee] = dev
		c.nwkIndex[rec.NWK] = ieee
		byIEEE[rec.IEEE] = dev
	}
	for _, rec := range snap.NodeDescriptors {
		if dev, ok := byIEEE[rec.IEEE]; ok {
			if nd, _, err := zdo.UnmarshalNodeDescriptor(rec.Descriptor); err == nil {
				dev.nodeDesc = nd
			}
		}
	}
	for _, rec := range snap.Endpoints {
		dev, ok := byIEEE[rec.IEEE]
		if !ok {
			continue
		}
		ep := newEndpoint(dev, rec.EndpointID)
		ep.restore(rec)
		dev.endpoints[rec.EndpointID] = ep
	}
	restoreCluster := func(rec appdb.ClusterRecord, dir ClusterDirection) {
		dev, ok := byIEEE[rec.IEEE]
		if !ok {
			return
		}
		ep := dev.endpoints[rec.EndpointID]
		if ep == nil {
			return
		}
		ep.restoreCluster(rec.ClusterID, dir)
	}
	for _, rec := range snap.InClusters {
		restoreCluster(rec, ClusterIn)
	}
	for _, rec := range snap.OutClusters {
		restoreCluster(rec, ClusterOut)
	}
	for _, rec := range snap.Attributes {
		dev, ok := byIEEE[rec.IEEE]
		if !ok {
			// Virtual rows may reference devices only; nothing to hydrate.
			continue
		}
		ep := dev.endpoints[rec.EndpointID]
		if ep == nil {
			continue
		}
		if cl := ep.inClusters[rec.ClusterID]; cl != nil {
			cl.restoreAttribute(rec)
		} else if cl := ep.outClusters[rec.ClusterID]; cl != nil {
			cl.restoreAttribute(rec)
		}
	}
	for _, rec := range snap.UnsupportedAttributes {
		dev, ok := byIEEE[rec.IEEE]
		if !ok {
			continue
		}
		ep := dev.endpoints[rec.EndpointID]
		if ep == nil {
			continue
		}
		if cl := ep.inClusters[rec.ClusterID]; cl != nil {
			cl.restoreUnsupported(rec.AttrID)
		}
	}
	for _, rec := range snap.Relays {
		if dev, ok := byIEEE[rec.IEEE]; ok {
			dev.relays = rec.Relays
		}
	}
	for _, rec := range snap.Groups {
		c.groups.restore(rec)
	}
	for _, rec := range snap.GroupMembers {
		c.groups.restoreMember(rec)
	}
	for _, dev := range c.devices {
		dev.refreshNamesFromCache()
	}
}
