package ota

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"testing"

	"zigbee-appd/internal/appdb"
	"zigbee-appd/internal/controller"
	"zigbee-appd/internal/radio"
	"zigbee-appd/internal/zcl"
)

// fakeStore satisfies appdb.Store with no-ops.
type fakeStore struct{}

func (fakeStore) SaveDevice(appdb.DeviceRecord) error                 { return nil }
func (fakeStore) DeleteDevice(string) error                           { return nil }
func (fakeStore) SaveEndpoint(appdb.EndpointRecord) error             { return nil }
func (fakeStore) SaveInCluster(appdb.ClusterRecord) error             { return nil }
func (fakeStore) SaveOutCluster(appdb.ClusterRecord) error            { return nil }
func (fakeStore) SaveNodeDescriptor(appdb.NodeDescriptorRecord) error { return nil }
func (fakeStore) SaveAttribute(appdb.AttributeRecord) error           { return nil }
func (fakeStore) SaveUnsupportedAttribute(appdb.UnsupportedAttributeRecord) error {
	return nil
}
func (fakeStore) DeleteUnsupportedAttribute(appdb.UnsupportedAttributeRecord) error {
	return nil
}
func (fakeStore) SaveNeighbors(string, []appdb.NeighborRecord) error { return nil }
func (fakeStore) SaveRoutes(string, []appdb.RouteRecord) error       { return nil }
func (fakeStore) SaveRelays(appdb.RelayRecord) error                 { return nil }
func (fakeStore) SaveGroup(appdb.GroupRecord) error                  { return nil }
func (fakeStore) DeleteGroup(uint16) error                           { return nil }
func (fakeStore) SaveGroupMember(appdb.GroupMemberRecord) error      { return nil }
func (fakeStore) DeleteGroupMember(appdb.GroupMemberRecord) error    { return nil }
func (fakeStore) SaveNetworkBackup([]byte) error                     { return nil }
func (fakeStore) Load() (*appdb.Snapshot, error)                     { return &appdb.Snapshot{}, nil }
func (fakeStore) Flush() error                                       { return nil }
func (fakeStore) Close() error                                       { return nil }

// fakeRadio satisfies radio.Radio; outbound traffic is dropped.
type fakeRadio struct{ handler radio.Handler }

func (r *fakeRadio) Probe(context.Context, radio.DeviceConfig) bool { return true }
func (r *fakeRadio) Startup(context.Context, bool) error            { return nil }
func (r *fakeRadio) Shutdown(context.Context) error                 { return nil }
func (r *fakeRadio) SetHandler(h radio.Handler)                     { r.handler = h }
func (r *fakeRadio) ForceRemove(context.Context, radio.EUI64) error { return nil }
func (r *fakeRadio) PermitNCP(context.Context, uint8) error         { return nil }
func (r *fakeRadio) PermitWithKey(context.Context, radio.EUI64, []byte, uint8) error {
	return nil
}
func (r *fakeRadio) Request(context.Context, uint16, radio.EUI64, uint16, uint16, uint8, uint8, uint8, []byte) error {
	return nil
}
func (r *fakeRadio) Broadcast(context.Context, uint16, uint16, uint8, uint8, uint16, uint16, uint8, []byte, uint16) error {
	return nil
}
func (r *fakeRadio) MRequest(context.Context, uint16, uint16, uint16, uint8, uint8, []byte) error {
	return nil
}
func (r *fakeRadio) NodeInfo() radio.NodeInfo       { return radio.NodeInfo{} }
func (r *fakeRadio) NetworkInfo() radio.NetworkInfo { return radio.NetworkInfo{} }
func (r *fakeRadio) WriteNetworkInfo(context.Context, radio.NetworkInfo, radio.NodeInfo) error {
	return nil
}

// memProvider serves a fixed image set from memory.
type memProvider struct {
	name     string
	priority int
	images   map[Key][]byte
}

func (p *memProvider) Name() string                  { return p.name }
func (p *memProvider) Priority() int                 { return p.priority }
func (p *memProvider) Refresh(context.Context) error { return nil }
func (p *memProvider) GetImage(manufacturer, imageType uint16, hw uint16, hasHW bool) *ImageMeta {
	var best *ImageMeta
	for key := range p.images {
		if key.ManufacturerCode != manufacturer || key.ImageType != imageType {
			continue
		}
		if best == nil || key.FileVersion > best.Key.FileVersion {
			best = &ImageMeta{Key: key}
		}
	}
	return best
}
func (p *memProvider) Fetch(_ context.Context, meta *ImageMeta) ([]byte, error) {
	return p.images[meta.Key], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testIEEE = radio.EUI64{0xEC, 0x1B, 0xBD, 0xFF, 0xFE, 0x54, 0x4F, 0x40}

func newTestDevice(t *testing.T) (*controller.Controller, *controller.Device) {
	t.Helper()
	logger := testLogger()
	registry := zcl.NewRegistry(logger)
	c := controller.New(&fakeRadio{}, registry, fakeStore{}, controller.Config{}, logger)
	if err := c.Start(context.Background(), false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	c.HandleJoin(0x1EE7, testIEEE, 0)
	dev := c.DeviceByIEEE(testIEEE)
	if dev == nil {
		t.Fatal("device missing")
	}
	return c, dev
}

func clusterFrame(tsn, commandID uint8, payload []byte) *zcl.Frame {
	return &zcl.Frame{
		Header: zcl.Header{
			FrameType: zcl.FrameTypeCluster,
			Direction: zcl.DirectionClientToServer,
			TSN:       tsn,
			CommandID: commandID,
		},
		Payload: payload,
	}
}

func queryNextImagePayload(manufacturer, imageType uint16, version uint32) []byte {
	out := make([]byte, 9)
	out[0] = 0
	binary.LittleEndian.PutUint16(out[1:3], manufacturer)
	binary.LittleEndian.PutUint16(out[3:5], imageType)
	binary.LittleEndian.PutUint32(out[5:9], version)
	return out
}

func blockRequestPayload(manufacturer, imageType uint16, version, offset uint32, maxSize uint8) []byte {
	out := make([]byte, 14)
	binary.LittleEndian.PutUint16(out[1:3], manufacturer)
	binary.LittleEndian.PutUint16(out[3:5], imageType)
	binary.LittleEndian.PutUint32(out[5:9], version)
	binary.LittleEndian.PutUint32(out[9:13], offset)
	out[13] = maxSize
	return out
}

func TestOTAHappyPath(t *testing.T) {
	img := testImage(0x01000020, bytes.Repeat([]byte{0x5A}, 200))
	provider := &memProvider{
		name:     "test",
		priority: PriorityLocal,
		images:   map[Key][]byte{img.Key(): img.Serialize()},
	}
	engine := NewEngine([]Provider{provider}, nil, testLogger())
	c, dev := newTestDevice(t)
	engine.Attach(c)

	// Query-Next-Image: the engine offers the newer version.
	reply := engine.HandleClusterCommand(dev, 1, clusterFrame(0x10, cmdQueryNextImageRequest,
		queryNextImagePayload(4476, 0x2101, 0x01000001)))
	if reply == nil || reply.Header.CommandID != cmdQueryNextImageResponse {
		t.Fatalf("query reply = %+v", reply)
	}
	if reply.Header.TSN != 0x10 {
		t.Errorf("reply TSN = 0x%02X", reply.Header.TSN)
	}
	if reply.Payload[0] != zcl.StatusSuccess {
		t.Fatalf("query status = 0x%02X", reply.Payload[0])
	}
	offered := binary.LittleEndian.Uint32(reply.Payload[5:9])
	totalSize := binary.LittleEndian.Uint32(reply.Payload[9:13])
	if offered != 0x01000020 {
		t.Errorf("offered version = 0x%08X", offered)
	}
	if engine.DeviceState(testIEEE) != StateQuerying {
		t.Errorf("state = %v, want querying", engine.DeviceState(testIEEE))
	}

	// Image-Block-Requests at strictly increasing offsets cover the file.
	var got []byte
	for offset := uint32(0); offset < totalSize; {
		reply = engine.HandleClusterCommand(dev, 1, clusterFrame(0x11, cmdImageBlockRequest,
			blockRequestPayload(4476, 0x2101, 0x01000020, offset, 48)))
		if reply == nil || reply.Header.CommandID != cmdImageBlockResponse {
			t.Fatalf("block reply at %d = %+v", offset, reply)
		}
		if reply.Payload[0] != zcl.StatusSuccess {
			t.Fatalf("block status at %d = 0x%02X", offset, reply.Payload[0])
		}
		gotOffset := binary.LittleEndian.Uint32(reply.Payload[9:13])
		size := reply.Payload[13]
		if gotOffset != offset {
			t.Fatalf("block offset = %d, want %d", gotOffset, offset)
		}
		if size == 0 || int(size) > 48 {
			t.Fatalf("block size = %d", size)
		}
		got = append(got, reply.Payload[14:14+int(size)]...)
		offset += uint32(size)
	}
	if !bytes.Equal(got, img.Serialize()) {
		t.Error("transferred bytes differ from image")
	}
	if engine.DeviceState(testIEEE) != StateWaitingToApply {
		t.Errorf("state = %v, want waiting_to_apply", engine.DeviceState(testIEEE))
	}

	// Upgrade-End(SUCCESS): apply immediately.
	endPayload := make([]byte, 9)
	endPayload[0] = zcl.StatusSuccess
	binary.LittleEndian.PutUint16(endPayload[1:3], 4476)
	binary.LittleEndian.PutUint16(endPayload[3:5], 0x2101)
	binary.LittleEndian.PutUint32(endPayload[5:9], 0x01000020)
	reply = engine.HandleClusterCommand(dev, 1, clusterFrame(0x12, cmdUpgradeEndRequest, endPayload))
	if reply == nil || reply.Header.CommandID != cmdUpgradeEndResponse {
		t.Fatalf("upgrade end reply = %+v", reply)
	}
	currentTime := binary.LittleEndian.Uint32(reply.Payload[8:12])
	upgradeTime := binary.LittleEndian.Uint32(reply.Payload[12:16])
	if currentTime != 0 || upgradeTime != 0 {
		t.Errorf("times = (%d, %d), want (0, 0)", currentTime, upgradeTime)
	}
	if engine.DeviceState(testIEEE) != StateApplied {
		t.Errorf("final state = %v, want applied", engine.DeviceState(testIEEE))
	}
}

func TestOTANoImageAvailable(t *testing.T) {
	engine := NewEngine(nil, nil, testLogger())
	c, dev := newTestDevice(t)
	engine.Attach(c)

	reply := engine.HandleClusterCommand(dev, 1, clusterFrame(0x01, cmdQueryNextImageRequest,
		queryNextImagePayload(4476, 0x2101, 0x01000001)))
	if reply == nil || reply.Payload[0] != zcl.StatusNoImageAvailable {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestOTACurrentVersionIsLatest(t *testing.T) {
	img := testImage(0x01000020, []byte{1})
	provider := &memProvider{name: "test", priority: PriorityLocal,
		images: map[Key][]byte{img.Key(): img.Serialize()}}
	engine := NewEngine([]Provider{provider}, nil, testLogger())
	c, dev := newTestDevice(t)
	engine.Attach(c)

	reply := engine.HandleClusterCommand(dev, 1, clusterFrame(0x01, cmdQueryNextImageRequest,
		queryNextImagePayload(4476, 0x2101, 0x01000020)))
	if reply == nil || reply.Payload[0] != zcl.StatusNoImageAvailable {
		t.Fatalf("same-version query reply = %+v", reply)
	}
}

func TestOTAProviderTieBreaks(t *testing.T) {
	imgOld := testImage(0x01000010, []byte{1})
	imgNew := testImage(0x01000020, []byte{2})

	local := &memProvider{name: "local", priority: PriorityLocal,
		images: map[Key][]byte{imgOld.Key(): imgOld.Serialize()}}
	aggregate := &memProvider{name: "aggregate", priority: PriorityAggregate,
		images: map[Key][]byte{imgNew.Key(): imgNew.Serialize()}}

	// The higher version wins even from a lower-priority provider.
	engine := NewEngine([]Provider{local, aggregate}, nil, testLogger())
	c, dev := newTestDevice(t)
	engine.Attach(c)
	reply := engine.HandleClusterCommand(dev, 1, clusterFrame(0x01, cmdQueryNextImageRequest,
		queryNextImagePayload(4476, 0x2101, 0x01000001)))
	if got := binary.LittleEndian.Uint32(reply.Payload[5:9]); got != 0x01000020 {
		t.Errorf("offered 0x%08X, want the higher version", got)
	}

	// On a version tie, provider priority decides.
	imgLocal := testImage(0x01000030, []byte{0xA1})
	imgRemote := testImage(0x01000030, []byte{0xB2, 0xB3})
	local2 := &memProvider{name: "local", priority: PriorityLocal,
		images: map[Key][]byte{imgLocal.Key(): imgLocal.Serialize()}}
	aggregate2 := &memProvider{name: "aggregate", priority: PriorityAggregate,
		images: map[Key][]byte{imgRemote.Key(): imgRemote.Serialize()}}
	engine2 := NewEngine([]Provider{aggregate2, local2}, nil, testLogger())

	c2, dev2 := newTestDevice(t)
	engine2.Attach(c2)
	reply = engine2.HandleClusterCommand(dev2, 1, clusterFrame(0x02, cmdQueryNextImageRequest,
		queryNextImagePayload(4476, 0x2101, 0x01000001)))
	totalSize := binary.LittleEndian.Uint32(reply.Payload[9:13])
	if totalSize != uint32(len(imgLocal.Serialize())) {
		t.Errorf("tie-break picked the wrong provider (size %d)", totalSize)
	}
}

func TestOTAFailedUpgradeEnd(t *testing.T) {
	img := testImage(0x01000020, []byte{1, 2, 3})
	provider := &memProvider{name: "test", priority: PriorityLocal,
		images: map[Key][]byte{img.Key(): img.Serialize()}}
	engine := NewEngine([]Provider{provider}, nil, testLogger())
	c, dev := newTestDevice(t)
	engine.Attach(c)

	engine.HandleClusterCommand(dev, 1, clusterFrame(0x01, cmdQueryNextImageRequest,
		queryNextImagePayload(4476, 0x2101, 0x01000001)))
	reply := engine.HandleClusterCommand(dev, 1, clusterFrame(0x02, cmdUpgradeEndRequest,
		[]byte{zcl.StatusAbort}))
	if reply != nil {
		t.Errorf("aborted upgrade got reply %+v", reply)
	}
	if engine.DeviceState(testIEEE) != StateFailed {
		t.Errorf("state = %v, want failed", engine.DeviceState(testIEEE))
	}
}

func TestImageCache(t *testing.T) {
	path := t.TempDir() + "/images.db"
	cache, err := OpenImageCache(path)
	if err != nil {
		t.Fatalf("OpenImageCache: %v", err)
	}
	defer cache.Close()

	key := Key{ManufacturerCode: 4476, ImageType: 0x2101, FileVersion: 7}
	if got := cache.Get(key); got != nil {
		t.Fatalf("empty cache returned %v", got)
	}
	if err := cache.Put(key, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := cache.Get(key); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Get = %v", got)
	}
}
