package controller

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"zigbee-appd/internal/appdb"
	"zigbee-appd/internal/radio"
	"zigbee-appd/internal/zdo"
)

// DeviceStatus is the interview lifecycle state.
type DeviceStatus uint8

const (
	StatusNew DeviceStatus = iota
	StatusZDOInit
	StatusEndpointsInit
	StatusInitialized
	StatusLeft
)

func (s DeviceStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusZDOInit:
		return "zdo_init"
	case StatusEndpointsInit:
		return "endpoints_init"
	case StatusInitialized:
		return "initialized"
	case StatusLeft:
		return "left"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// GreenPowerEndpoint is the fixed GreenPower proxy endpoint; it has no
// simple descriptor to interview.
const GreenPowerEndpoint uint8 = 242

// Interview retry policy.
const (
	descriptorAttempts   = 3
	simpleDescAttempts   = 2
	interviewStepTimeout = 60 * time.Second
)

// FormatIEEE renders an EUI64 as colon-separated hex.
func FormatIEEE(ieee radio.EUI64) string {
	parts := make([]string, 8)
	for i, b := range ieee {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// ParseIEEE parses "dd:dd:dd:dd:dd:dd:dd:dd" or bare hex into an EUI64.
func ParseIEEE(s string) (radio.EUI64, error) {
	var result radio.EUI64
	s = strings.ReplaceAll(s, ":", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return result, fmt.Errorf("parse ieee address: %w", err)
	}
	if len(b) != 8 {
		return result, fmt.Errorf("ieee address must be 8 bytes, got %d", len(b))
	}
	copy(result[:], b)
	return result, nil
}

// Device is one node on the network. The controller owns the device
// table; endpoints and clusters hang off their device and reference the
// controller only through it.
type Device struct {
	ctrl *Controller
	IEEE radio.EUI64

	mu           sync.RWMutex
	nwk          uint16
	status       DeviceStatus
	nodeDesc     *zdo.NodeDescriptor
	manufacturer string
	model        string
	lastSeen     time.Time
	endpoints    map[uint8]*Endpoint
	relays       []uint16

	// One in-flight request per device; queued senders wait here.
	sendMu sync.Mutex
}

func newDevice(ctrl *Controller, ieee radio.EUI64, nwk uint16) *Device {
	return &Device{
		ctrl:      ctrl,
		IEEE:      ieee,
		nwk:       nwk,
		status:    StatusNew,
		lastSeen:  time.Now(),
		endpoints: make(map[uint8]*Endpoint),
	}
}

// NWK returns the current short address.
func (d *Device) NWK() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nwk
}

// Status returns the lifecycle state.
func (d *Device) Status() DeviceStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// NodeDescriptor returns the cached node descriptor, or nil.
func (d *Device) NodeDescriptor() *zdo.NodeDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodeDesc
}

// Manufacturer returns the basic-cluster manufacturer name.
func (d *Device) Manufacturer() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manufacturer
}

// Model returns the basic-cluster model identifier.
func (d *Device) Model() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model
}

// LastSeen returns the time of the last frame from this device.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Relays returns the last known source-route relay list.
func (d *Device) Relays() []uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]uint16(nil), d.relays...)
}

// Endpoint returns an endpoint by id, or nil.
func (d *Device) Endpoint(id uint8) *Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.endpoints[id]
}

// Endpoints returns all endpoints.
func (d *Device) Endpoints() []*Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	return out
}

func (d *Device) record() appdb.DeviceRecord {
	return appdb.DeviceRecord{
		IEEE:     FormatIEEE(d.IEEE),
		NWK:      d.nwk,
		Status:   uint8(d.status),
		LastSeen: d.lastSeen,
	}
}

// markSeen refreshes last_seen and writes through.
func (d *Device) markSeen() {
	d.mu.Lock()
	d.lastSeen = time.Now()
	rec := d.record()
	d.mu.Unlock()
	if err := d.ctrl.store.SaveDevice(rec); err != nil {
		d.ctrl.logger.Error("save device last_seen", "err", err, "ieee", FormatIEEE(d.IEEE))
	}
}

func (d *Device) setStatus(status DeviceStatus) {
	d.mu.Lock()
	d.status = status
	rec := d.record()
	d.mu.Unlock()
	if err := d.ctrl.store.SaveDevice(rec); err != nil {
		d.ctrl.logger.Error("save device status", "err", err, "ieee", FormatIEEE(d.IEEE))
	}
}

// updateRelays stores a new source-route relay list and emits
// device_relays_updated when it changed.
func (d *Device) updateRelays(relays []uint16) {
	ieee := FormatIEEE(d.IEEE)
	d.mu.Lock()
	same := len(relays) == len(d.relays)
	if same {
		for i := range relays {
			if relays[i] != d.relays[i] {
				same = false
				break
			}
		}
	}
	d.relays = append([]uint16(nil), relays...)
	d.mu.Unlock()
	if same {
		return
	}
	if err := d.ctrl.store.SaveRelays(appdb.RelayRecord{IEEE: ieee, Relays: relays}); err != nil {
		d.ctrl.logger.Error("save relays", "err", err, "ieee", ieee)
	}
	d.ctrl.events.Emit(Event{Type: EventDeviceRelaysUpdated, Data: map[string]interface{}{
		"ieee":   ieee,
		"relays": relays,
	}})
}

// interview walks the device through new -> zdo_init -> endpoints_init ->
// initialized. Each step retries with backoff and jitter; persistent
// failure leaves the device in its last successful state so it can be
// rediscovered on the next announce.
func (d *Device) interview(ctx context.Context) {
	ieee := FormatIEEE(d.IEEE)
	log := d.ctrl.logger.With("component", "interview", "ieee", ieee)

	if d.Status() >= StatusInitialized {
		return
	}

	if d.Status() == StatusNew {
		nd, err := d.fetchNodeDescriptor(ctx)
		if err != nil {
			log.Warn("node descriptor failed", "err", err)
			d.initFailure("node_descriptor", err)
			return
		}
		d.mu.Lock()
		d.nodeDesc = nd
		d.status = StatusZDOInit
		rec := d.record()
		d.mu.Unlock()
		if err := d.ctrl.store.SaveNodeDescriptor(appdb.NodeDescriptorRecord{IEEE: ieee, Descriptor: nd.Marshal()}); err != nil {
			log.Error("save node descriptor", "err", err)
		}
		if err := d.ctrl.store.SaveDevice(rec); err != nil {
			log.Error("save device", "err", err)
		}
		d.ctrl.events.Emit(Event{Type: EventNodeDescriptorUpdated, Data: map[string]interface{}{
			"ieee":         ieee,
			"logical_type": uint8(nd.LogicalType),
			"manufacturer": nd.ManufacturerCode,
		}})
		log.Info("node descriptor", "logical_type", nd.LogicalType, "manufacturer", nd.ManufacturerCode)
	}

	if d.Status() == StatusZDOInit {
		endpoints, err := d.fetchActiveEndpoints(ctx)
		if err != nil {
			log.Warn("active endpoints failed", "err", err)
			d.initFailure("active_endpoints", err)
			return
		}
		d.mu.Lock()
		for _, epID := range endpoints {
			if _, ok := d.endpoints[epID]; !ok {
				d.endpoints[epID] = newEndpoint(d, epID)
			}
		}
		d.status = StatusEndpointsInit
		rec := d.record()
		d.mu.Unlock()
		if err := d.ctrl.store.SaveDevice(rec); err != nil {
			log.Error("save device", "err", err)
		}
		log.Info("active endpoints", "endpoints", endpoints)
	}

	if d.Status() == StatusEndpointsInit {
		for _, ep := range d.Endpoints() {
			if ep.ID == GreenPowerEndpoint {
				ep.markInitialized()
				continue
			}
			if err := ep.fetchSimpleDescriptor(ctx); err != nil {
				log.Warn("simple descriptor failed", "err", err, "endpoint", ep.ID)
				d.initFailure(fmt.Sprintf("simple_descriptor/%d", ep.ID), err)
				return
			}
		}
		d.readBasicAttributes(ctx)
		d.setStatus(StatusInitialized)
		d.ctrl.events.Emit(Event{Type: EventRawDeviceInitialized, Data: map[string]interface{}{"ieee": ieee}})
		d.ctrl.events.Emit(Event{Type: EventDeviceInitialized, Data: map[string]interface{}{
			"ieee":         ieee,
			"nwk":          d.NWK(),
			"manufacturer": d.Manufacturer(),
			"model":        d.Model(),
		}})
		log.Info("device initialized", "manufacturer", d.Manufacturer(), "model", d.Model())
	}
}

func (d *Device) initFailure(step string, err error) {
	d.ctrl.events.Emit(Event{Type: EventDeviceInitFailure, Data: map[string]interface{}{
		"ieee":  FormatIEEE(d.IEEE),
		"step":  step,
		"error": err.Error(),
	}})
}

// retryStep runs fn up to attempts times with exponential backoff and
// jitter between tries.
func retryStep(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts {
			break
		}
		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		backoff += time.Duration(rand.IntN(1000)) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (d *Device) fetchNodeDescriptor(ctx context.Context) (*zdo.NodeDescriptor, error) {
	var nd *zdo.NodeDescriptor
	err := retryStep(ctx, descriptorAttempts, func() error {
		reply, err := d.ctrl.zdoRequest(ctx, d, zdo.NodeDescReq, zdo.EncodeNWKAddress(d.NWK()), interviewStepTimeout)
		if err != nil {
			return err
		}
		status, _, desc, err := zdo.DecodeNodeDescResponse(reply)
		if err != nil {
			return err
		}
		if status != zdo.StatusSuccess {
			return fmt.Errorf("node descriptor status 0x%02X: %w", status, ErrInvalidResponse)
		}
		nd = desc
		return nil
	})
	return nd, err
}

func (d *Device) fetchActiveEndpoints(ctx context.Context) ([]uint8, error) {
	var endpoints []uint8
	err := retryStep(ctx, descriptorAttempts, func() error {
		reply, err := d.ctrl.zdoRequest(ctx, d, zdo.ActiveEPReq, zdo.EncodeNWKAddress(d.NWK()), interviewStepTimeout)
		if err != nil {
			return err
		}
		status, _, eps, err := zdo.DecodeActiveEPResponse(reply)
		if err != nil {
			return err
		}
		if status != zdo.StatusSuccess {
			return fmt.Errorf("active endpoints status 0x%02X: %w", status, ErrInvalidResponse)
		}
		endpoints = eps
		return nil
	})
	return endpoints, err
}

// readBasicAttributes reads manufacturer and model from the first
// endpoint carrying the basic cluster. Failure is not fatal to the
// interview.
func (d *Device) readBasicAttributes(ctx context.Context) {
	for _, ep := range d.Endpoints() {
		cluster := ep.InCluster(0x0000)
		if cluster == nil {
			continue
		}
		values, err := cluster.ReadAttributes(ctx, []uint16{0x0004, 0x0005})
		if err != nil {
			d.ctrl.logger.Warn("read basic attributes", "err", err, "ieee", FormatIEEE(d.IEEE))
			return
		}
		d.mu.Lock()
		if s, ok := values[0x0004].Value.(string); ok {
			d.manufacturer = s
		}
		if s, ok := values[0x0005].Value.(string); ok {
			d.model = s
		}
		d.mu.Unlock()
		return
	}
}

// restore rebuilds in-memory state from persistence rows.
func (d *Device) restore(rec appdb.DeviceRecord, nd []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nwk = rec.NWK
	d.status = DeviceStatus(rec.Status)
	d.lastSeen = rec.LastSeen
	if len(nd) > 0 {
		if desc, _, err := zdo.UnmarshalNodeDescriptor(nd); err == nil {
			d.nodeDesc = desc
		}
	}
}

// refreshNamesFromCache sets manufacturer and model from the cached
// basic-cluster attributes 0x0004 and 0x0005 after reload, using the first
// endpoint found with a basic cluster.
func (d *Device) refreshNamesFromCache() {
	for _, ep := range d.Endpoints() {
		cluster := ep.InCluster(0x0000)
		if cluster == nil {
			continue
		}
		d.mu.Lock()
		if tv, ok := cluster.Cached(0x0004); ok {
			if s, ok := tv.Value.(string); ok {
				d.manufacturer = s
			}
		}
		if tv, ok := cluster.Cached(0x0005); ok {
			if s, ok := tv.Value.(string); ok {
				d.model = s
			}
		}
		d.mu.Unlock()
		return
	}
}
