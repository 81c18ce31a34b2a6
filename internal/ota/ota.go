package ota

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"zigbee-appd/internal/controller"
	"zigbee-appd/internal/radio"
	"zigbee-appd/internal/zcl"
)

// OTA Upgrade cluster id and command ids.
const (
	ClusterID uint16 = 0x0019

	cmdImageNotify            uint8 = 0x00
	cmdQueryNextImageRequest  uint8 = 0x01
	cmdQueryNextImageResponse uint8 = 0x02
	cmdImageBlockRequest      uint8 = 0x03
	cmdImagePageRequest       uint8 = 0x04
	cmdImageBlockResponse     uint8 = 0x05
	cmdUpgradeEndRequest      uint8 = 0x06
	cmdUpgradeEndResponse     uint8 = 0x07
)

// maxBlockSize caps one Image Block Response payload.
const maxBlockSize = 64

// State of a device's upgrade.
type State uint8

const (
	StateIdle State = iota
	StateQuerying
	StateDownloading
	StateWaitingToApply
	StateApplied
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQuerying:
		return "querying"
	case StateDownloading:
		return "downloading"
	case StateWaitingToApply:
		return "waiting_to_apply"
	case StateApplied:
		return "applied"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type deviceState struct {
	state        State
	image        *Image
	raw          []byte
	offset       uint32
	lastActivity time.Time
}

// Engine plays the server role of the OTA Upgrade cluster: it resolves
// images from the provider set and feeds block transfers.
type Engine struct {
	providers []Provider
	cache     *ImageCache
	logger    *slog.Logger

	mu     sync.Mutex
	states map[radio.EUI64]*deviceState
}

// NewEngine builds an engine over a provider set. The cache is optional.
func NewEngine(providers []Provider, cache *ImageCache, logger *slog.Logger) *Engine {
	// Stable order: higher priority providers considered first.
	sorted := append([]Provider(nil), providers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })
	return &Engine{
		providers: sorted,
		cache:     cache,
		logger:    logger.With("component", "ota"),
		states:    make(map[radio.EUI64]*deviceState),
	}
}

// Attach registers the engine as the OTA cluster server on a controller.
func (e *Engine) Attach(c *controller.Controller) {
	c.SetClusterServer(ClusterID, e)
}

// DeviceState returns the upgrade state for a device.
func (e *Engine) DeviceState(ieee radio.EUI64) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[ieee]; ok {
		return st.state
	}
	return StateIdle
}

// RefreshProviders refreshes every provider index, logging failures.
func (e *Engine) RefreshProviders(ctx context.Context) {
	for _, p := range e.providers {
		if err := p.Refresh(ctx); err != nil {
			e.logger.Warn("provider refresh", "err", err, "provider", p.Name())
		}
	}
}

// selectImage picks the best candidate across providers: highest file
// version wins, provider priority breaks ties.
func (e *Engine) selectImage(manufacturer, imageType, hwVersion uint16, hasHW bool) (Provider, *ImageMeta) {
	var bestProvider Provider
	var best *ImageMeta
	for _, p := range e.providers {
		m := p.GetImage(manufacturer, imageType, hwVersion, hasHW)
		if m == nil {
			continue
		}
		// Providers are pre-sorted by priority, so strictly-greater keeps
		// the higher-priority provider on version ties.
		if best == nil || m.Key.FileVersion > best.Key.FileVersion {
			best = m
			bestProvider = p
		}
	}
	return bestProvider, best
}

func (e *Engine) state(ieee radio.EUI64) *deviceState {
	st, ok := e.states[ieee]
	if !ok {
		st = &deviceState{state: StateIdle}
		e.states[ieee] = st
	}
	return st
}

// HandleClusterCommand implements controller.ClusterServer for cluster
// 0x0019.
func (e *Engine) HandleClusterCommand(dev *controller.Device, srcEP uint8, frame *zcl.Frame) *zcl.Frame {
	switch frame.Header.CommandID {
	case cmdQueryNextImageRequest:
		return e.handleQueryNextImage(dev, frame)
	case cmdImageBlockRequest, cmdImagePageRequest:
		return e.handleImageBlock(dev, frame)
	case cmdUpgradeEndRequest:
		return e.handleUpgradeEnd(dev, frame)
	}
	return nil
}

func (e *Engine) reply(request *zcl.Frame, commandID uint8, payload []byte) *zcl.Frame {
	return &zcl.Frame{
		Header: zcl.Header{
			FrameType:          zcl.FrameTypeCluster,
			Direction:          zcl.DirectionServerToClient,
			DisableDefaultResp: true,
			TSN:                request.Header.TSN,
			CommandID:          commandID,
		},
		Payload: payload,
	}
}

func (e *Engine) noImage(request *zcl.Frame, commandID uint8) *zcl.Frame {
	return e.reply(request, commandID, []byte{zcl.StatusNoImageAvailable})
}

func (e *Engine) handleQueryNextImage(dev *controller.Device, frame *zcl.Frame) *zcl.Frame {
	p := frame.Payload
	if len(p) < 9 {
		return e.noImage(frame, cmdQueryNextImageResponse)
	}
	fieldControl := p[0]
	manufacturer := binary.LittleEndian.Uint16(p[1:3])
	imageType := binary.LittleEndian.Uint16(p[3:5])
	currentVersion := binary.LittleEndian.Uint32(p[5:9])
	var hwVersion uint16
	hasHW := fieldControl&0x01 != 0
	if hasHW && len(p) >= 11 {
		hwVersion = binary.LittleEndian.Uint16(p[9:11])
	}

	ieee := dev.IEEE
	provider, meta := e.selectImage(manufacturer, imageType, hwVersion, hasHW)
	if meta == nil || meta.Key.FileVersion <= currentVersion {
		e.mu.Lock()
		e.state(ieee).state = StateIdle
		e.mu.Unlock()
		return e.noImage(frame, cmdQueryNextImageResponse)
	}

	img, err := e.loadImage(provider, meta)
	if err != nil {
		e.logger.Warn("load image", "err", err, "provider", provider.Name(),
			"manufacturer", manufacturer, "image_type", fmt.Sprintf("0x%04X", imageType))
		return e.noImage(frame, cmdQueryNextImageResponse)
	}

	e.mu.Lock()
	st := e.state(ieee)
	st.state = StateQuerying
	st.image = img
	st.raw = img.Serialize()
	st.offset = 0
	st.lastActivity = time.Now()
	e.mu.Unlock()

	e.logger.Info("offering upgrade image",
		"device", controller.FormatIEEE(ieee),
		"manufacturer", manufacturer,
		"image_type", fmt.Sprintf("0x%04X", imageType),
		"current", fmt.Sprintf("0x%08X", currentVersion),
		"offered", fmt.Sprintf("0x%08X", meta.Key.FileVersion),
		"provider", provider.Name(),
	)

	out := make([]byte, 13)
	out[0] = zcl.StatusSuccess
	binary.LittleEndian.PutUint16(out[1:3], meta.Key.ManufacturerCode)
	binary.LittleEndian.PutUint16(out[3:5], meta.Key.ImageType)
	binary.LittleEndian.PutUint32(out[5:9], meta.Key.FileVersion)
	binary.LittleEndian.PutUint32(out[9:13], uint32(len(e.rawFor(ieee))))
	return e.reply(frame, cmdQueryNextImageResponse, out)
}

func (e *Engine) rawFor(ieee radio.EUI64) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[ieee]; ok {
		return st.raw
	}
	return nil
}

// loadImage returns the parsed image for a provider entry, consulting
// the cache before fetching.
func (e *Engine) loadImage(provider Provider, meta *ImageMeta) (*Image, error) {
	var data []byte
	if e.cache != nil {
		data = e.cache.Get(meta.Key)
	}
	if data == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()
		fetched, err := provider.Fetch(ctx, meta)
		if err != nil {
			return nil, err
		}
		data = fetched
		if e.cache != nil {
			if err := e.cache.Put(meta.Key, data); err != nil {
				e.logger.Warn("cache image", "err", err)
			}
		}
	}
	return ParseImage(data)
}

func (e *Engine) handleImageBlock(dev *controller.Device, frame *zcl.Frame) *zcl.Frame {
	p := frame.Payload
	if len(p) < 14 {
		return e.noImage(frame, cmdImageBlockResponse)
	}
	manufacturer := binary.LittleEndian.Uint16(p[1:3])
	imageType := binary.LittleEndian.Uint16(p[3:5])
	fileVersion := binary.LittleEndian.Uint32(p[5:9])
	offset := binary.LittleEndian.Uint32(p[9:13])
	maxSize := p[13]

	ieee := dev.IEEE
	e.mu.Lock()
	st, ok := e.states[ieee]
	if !ok || st.raw == nil || st.image.Header.FileVersion != fileVersion {
		e.mu.Unlock()
		return e.noImage(frame, cmdImageBlockResponse)
	}
	st.state = StateDownloading
	st.lastActivity = time.Now()
	raw := st.raw
	e.mu.Unlock()

	if offset >= uint32(len(raw)) {
		return e.noImage(frame, cmdImageBlockResponse)
	}

	size := uint32(maxSize)
	if size > maxBlockSize {
		size = maxBlockSize
	}
	if offset+size > uint32(len(raw)) {
		size = uint32(len(raw)) - offset
	}
	block := raw[offset : offset+size]

	e.mu.Lock()
	if offset+size >= uint32(len(raw)) {
		st.state = StateWaitingToApply
	}
	st.offset = offset + size
	e.mu.Unlock()

	out := make([]byte, 14, 14+len(block))
	out[0] = zcl.StatusSuccess
	binary.LittleEndian.PutUint16(out[1:3], manufacturer)
	binary.LittleEndian.PutUint16(out[3:5], imageType)
	binary.LittleEndian.PutUint32(out[5:9], fileVersion)
	binary.LittleEndian.PutUint32(out[9:13], offset)
	out[13] = uint8(size)
	out = append(out, block...)
	return e.reply(frame, cmdImageBlockResponse, out)
}

func (e *Engine) handleUpgradeEnd(dev *controller.Device, frame *zcl.Frame) *zcl.Frame {
	p := frame.Payload
	if len(p) < 1 {
		return nil
	}
	status := p[0]

	ieee := dev.IEEE
	e.mu.Lock()
	st := e.state(ieee)
	var version uint32
	if st.image != nil {
		version = st.image.Header.FileVersion
	}
	if status == zcl.StatusSuccess {
		st.state = StateApplied
	} else {
		// Protocol errors leave the device on its previous firmware; the
		// next Query starts over.
		st.state = StateFailed
	}
	st.raw = nil
	st.lastActivity = time.Now()
	e.mu.Unlock()

	e.logger.Info("upgrade end", "device", controller.FormatIEEE(ieee),
		"status", fmt.Sprintf("0x%02X", status), "state", e.DeviceState(ieee).String())

	if status != zcl.StatusSuccess {
		return nil
	}
	if len(p) >= 9 {
		version = binary.LittleEndian.Uint32(p[5:9])
	}

	// Apply immediately: current time and upgrade time both zero.
	out := make([]byte, 16)
	var manufacturer, imageType uint16
	if len(p) >= 5 {
		manufacturer = binary.LittleEndian.Uint16(p[1:3])
		imageType = binary.LittleEndian.Uint16(p[3:5])
	}
	binary.LittleEndian.PutUint16(out[0:2], manufacturer)
	binary.LittleEndian.PutUint16(out[2:4], imageType)
	binary.LittleEndian.PutUint32(out[4:8], version)
	binary.LittleEndian.PutUint32(out[8:12], 0)  // current time
	binary.LittleEndian.PutUint32(out[12:16], 0) // upgrade time
	return e.reply(frame, cmdUpgradeEndResponse, out)
}

// NotifyImage sends an Image Notify to one device endpoint to prompt it
// into querying. Payload type 0: query jitter only.
func (e *Engine) NotifyImage(ctx context.Context, c *controller.Controller, dev *controller.Device, endpoint uint8) error {
	frame := &zcl.Frame{
		Header: zcl.Header{
			FrameType:          zcl.FrameTypeCluster,
			Direction:          zcl.DirectionServerToClient,
			DisableDefaultResp: true,
			TSN:                c.NextSeq(),
			CommandID:          cmdImageNotify,
		},
		Payload: []byte{0x00, 100},
	}
	_, err := c.Request(ctx, dev, 0x0104, ClusterID, 1, endpoint, frame.Header.TSN, frame.Marshal(), false, 10*time.Second)
	return err
}
