package ota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Provider priorities break version ties: a local directory beats a
// manufacturer index, which beats a community aggregate.
const (
	PriorityLocal      = 2
	PriorityFirstParty = 1
	PriorityAggregate  = 0
)

// Published provider index URLs.
const (
	tradfriIndexURL  = "https://fw.ota.homesmart.ikea.com/DIRIGERA/version_info.json"
	ledvanceIndexURL = "https://api.update.ledvance.com/v1/zigbee/firmwares"
	sonoffIndexURL   = "https://zigbee-ota.sonoff.tech/releases/upgrade.json"
	inovelliIndexURL = "https://files.inovelli.com/firmware/firmware-zha.json"
	salusIndexURL    = "https://eu.salusconnect.io/demo/default/status/firmware"
	koenkkIndexURL   = "https://raw.githubusercontent.com/Koenkk/zigbee-OTA/master/index.json"
)

// indexExpiration throttles index refreshes so providers are not
// hammered.
const indexExpiration = 4 * time.Hour

// ImageMeta is one provider index entry.
type ImageMeta struct {
	Key         Key
	MinHardware uint16
	MaxHardware uint16
	HasHardware bool
	URL         string // remote images
	Path        string // local images
}

// Provider lists and fetches upgrade images.
type Provider interface {
	Name() string
	Priority() int
	// Refresh reloads the provider's index when it expired.
	Refresh(ctx context.Context) error
	// GetImage returns the best matching image metadata, or nil.
	GetImage(manufacturer, imageType uint16, hwVersion uint16, hasHW bool) *ImageMeta
	// Fetch downloads the image bytes for one of this provider's entries.
	Fetch(ctx context.Context, meta *ImageMeta) ([]byte, error)
}

// baseProvider carries the shared index bookkeeping.
type baseProvider struct {
	name     string
	priority int
	logger   *slog.Logger

	mu          sync.Mutex
	index       []ImageMeta
	lastRefresh time.Time
}

func (p *baseProvider) Name() string {
	return p.name
}

func (p *baseProvider) Priority() int {
	return p.priority
}

func (p *baseProvider) expired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastRefresh) >= indexExpiration
}

func (p *baseProvider) setIndex(index []ImageMeta) {
	p.mu.Lock()
	p.index = index
	p.lastRefresh = time.Now()
	p.mu.Unlock()
}

func (p *baseProvider) GetImage(manufacturer, imageType uint16, hwVersion uint16, hasHW bool) *ImageMeta {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *ImageMeta
	for i := range p.index {
		m := &p.index[i]
		if m.Key.ManufacturerCode != manufacturer || m.Key.ImageType != imageType {
			continue
		}
		if hasHW && m.HasHardware && (hwVersion < m.MinHardware || hwVersion > m.MaxHardware) {
			continue
		}
		if best == nil || m.Key.FileVersion > best.Key.FileVersion {
			best = m
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// httpGet fetches a URL with a bounded timeout.
func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	rsp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ota: GET %s: %s", url, rsp.Status)
	}
	return io.ReadAll(rsp.Body)
}

// httpProvider is the shared shape of the manufacturer index providers:
// fetch a JSON index, map it to ImageMeta entries.
type httpProvider struct {
	baseProvider
	client   *http.Client
	indexURL string
	parse    func(data []byte) ([]ImageMeta, error)
}

func (p *httpProvider) Refresh(ctx context.Context) error {
	if !p.expired() {
		return nil
	}
	data, err := httpGet(ctx, p.client, p.indexURL)
	if err != nil {
		return fmt.Errorf("refresh %s index: %w", p.name, err)
	}
	index, err := p.parse(data)
	if err != nil {
		return fmt.Errorf("parse %s index: %w", p.name, err)
	}
	p.setIndex(index)
	p.logger.Debug("provider index refreshed", "provider", p.name, "images", len(index))
	return nil
}

func (p *httpProvider) Fetch(ctx context.Context, meta *ImageMeta) ([]byte, error) {
	return httpGet(ctx, p.client, meta.URL)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// NewTradfri builds the IKEA DIRIGERA index provider.
func NewTradfri(logger *slog.Logger) Provider {
	p := &httpProvider{
		baseProvider: baseProvider{name: "ikea", priority: PriorityFirstParty, logger: logger},
		client:       newHTTPClient(),
		indexURL:     tradfriIndexURL,
	}
	p.parse = func(data []byte) ([]ImageMeta, error) {
		var entries []struct {
			FWImageType uint16 `json:"fw_image_type"`
			FWType      int    `json:"fw_type"`
			FWBinaryURL string `json:"fw_binary_url"`
		}
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		versionRe := regexp.MustCompile(`.*_v(?P<v>\d+)_.*`)
		var index []ImageMeta
		for _, e := range entries {
			if e.FWType != 2 { // Zigbee firmware only
				continue
			}
			m := versionRe.FindStringSubmatch(e.FWBinaryURL)
			if m == nil {
				continue
			}
			version, err := strconv.ParseUint(m[1], 10, 32)
			if err != nil {
				continue
			}
			index = append(index, ImageMeta{
				Key: Key{
					ManufacturerCode: 4476,
					ImageType:        e.FWImageType,
					FileVersion:      uint32(version),
				},
				URL: e.FWBinaryURL,
			})
		}
		return index, nil
	}
	return p
}

// NewLedvance builds the LEDVANCE index provider.
func NewLedvance(logger *slog.Logger) Provider {
	p := &httpProvider{
		baseProvider: baseProvider{name: "ledvance", priority: PriorityFirstParty, logger: logger},
		client:       newHTTPClient(),
		indexURL:     ledvanceIndexURL,
	}
	p.parse = func(data []byte) ([]ImageMeta, error) {
		var doc struct {
			Firmwares []struct {
				Identity struct {
					Company uint16 `json:"company"`
					Product uint16 `json:"product"`
					Version struct {
						Major    uint8 `json:"major"`
						Minor    uint8 `json:"minor"`
						Build    uint8 `json:"build"`
						Revision uint8 `json:"revision"`
					} `json:"version"`
				} `json:"identity"`
				FullName string `json:"fullName"`
			} `json:"firmwares"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		var index []ImageMeta
		for _, fw := range doc.Firmwares {
			v := fw.Identity.Version
			version := uint32(v.Major)<<24 | uint32(v.Minor)<<16 | uint32(v.Build)<<8 | uint32(v.Revision)
			index = append(index, ImageMeta{
				Key: Key{
					ManufacturerCode: fw.Identity.Company,
					ImageType:        fw.Identity.Product,
					FileVersion:      version,
				},
				URL: fmt.Sprintf("%s/download?company=%d&product=%d&version=%d.%d.%d.%d",
					ledvanceIndexURL, fw.Identity.Company, fw.Identity.Product,
					v.Major, v.Minor, v.Build, v.Revision),
			})
		}
		return index, nil
	}
	return p
}

// NewSonoff builds the Sonoff index provider.
func NewSonoff(logger *slog.Logger) Provider {
	p := &httpProvider{
		baseProvider: baseProvider{name: "sonoff", priority: PriorityFirstParty, logger: logger},
		client:       newHTTPClient(),
		indexURL:     sonoffIndexURL,
	}
	p.parse = func(data []byte) ([]ImageMeta, error) {
		var entries []struct {
			FWManufacturerID uint16 `json:"fw_manufacturer_id"`
			FWImageType      uint16 `json:"fw_image_type"`
			FWFileVersion    uint32 `json:"fw_file_version"`
			FWBinaryURL      string `json:"fw_binary_url"`
		}
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		var index []ImageMeta
		for _, e := range entries {
			index = append(index, ImageMeta{
				Key: Key{
					ManufacturerCode: e.FWManufacturerID,
					ImageType:        e.FWImageType,
					FileVersion:      e.FWFileVersion,
				},
				URL: e.FWBinaryURL,
			})
		}
		return index, nil
	}
	return p
}

// NewInovelli builds the Inovelli index provider.
func NewInovelli(logger *slog.Logger) Provider {
	p := &httpProvider{
		baseProvider: baseProvider{name: "inovelli", priority: PriorityFirstParty, logger: logger},
		client:       newHTTPClient(),
		indexURL:     inovelliIndexURL,
	}
	p.parse = func(data []byte) ([]ImageMeta, error) {
		var doc map[string][]struct {
			Version      string `json:"version"`
			Channel      string `json:"channel"`
			Firmware     string `json:"firmware"`
			Manufacturer uint16 `json:"manufacturer_id"`
			ImageType    uint16 `json:"image_type"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		var index []ImageMeta
		for _, entries := range doc {
			for _, e := range entries {
				version, err := strconv.ParseUint(e.Version, 16, 32)
				if err != nil {
					continue
				}
				index = append(index, ImageMeta{
					Key: Key{
						ManufacturerCode: e.Manufacturer,
						ImageType:        e.ImageType,
						FileVersion:      uint32(version),
					},
					URL: e.Firmware,
				})
			}
		}
		return index, nil
	}
	return p
}

// NewSalus builds the Salus index provider.
func NewSalus(logger *slog.Logger) Provider {
	p := &httpProvider{
		baseProvider: baseProvider{name: "salus", priority: PriorityFirstParty, logger: logger},
		client:       newHTTPClient(),
		indexURL:     salusIndexURL,
	}
	p.parse = func(data []byte) ([]ImageMeta, error) {
		var doc struct {
			Versions []struct {
				Model   string `json:"model"`
				Version string `json:"version"`
				URL     string `json:"url"`
			} `json:"versions"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		var index []ImageMeta
		for _, e := range doc.Versions {
			version, err := strconv.ParseUint(e.Version, 10, 32)
			if err != nil {
				continue
			}
			// Salus publishes per-model archives under one manufacturer id.
			index = append(index, ImageMeta{
				Key: Key{
					ManufacturerCode: 4216,
					ImageType:        0xFFFF,
					FileVersion:      uint32(version),
				},
				URL: e.URL,
			})
		}
		return index, nil
	}
	return p
}

// NewRemoteIndex builds a provider over a community aggregate index in
// the zigbee-OTA format (Koenkk by default).
func NewRemoteIndex(url string, logger *slog.Logger) Provider {
	if url == "" {
		url = koenkkIndexURL
	}
	p := &httpProvider{
		baseProvider: baseProvider{name: "remote-index", priority: PriorityAggregate, logger: logger},
		client:       newHTTPClient(),
		indexURL:     url,
	}
	p.parse = func(data []byte) ([]ImageMeta, error) {
		var entries []struct {
			ManufacturerCode uint16  `json:"manufacturerCode"`
			ImageType        uint16  `json:"imageType"`
			FileVersion      uint32  `json:"fileVersion"`
			URL              string  `json:"url"`
			MinHardware      *uint16 `json:"hardwareVersionMin"`
			MaxHardware      *uint16 `json:"hardwareVersionMax"`
		}
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		var index []ImageMeta
		for _, e := range entries {
			m := ImageMeta{
				Key: Key{
					ManufacturerCode: e.ManufacturerCode,
					ImageType:        e.ImageType,
					FileVersion:      e.FileVersion,
				},
				URL: e.URL,
			}
			if e.MinHardware != nil && e.MaxHardware != nil {
				m.HasHardware = true
				m.MinHardware = *e.MinHardware
				m.MaxHardware = *e.MaxHardware
			}
			index = append(index, m)
		}
		return index, nil
	}
	return p
}

// LocalDir scans a directory of .ota/.zigbee/.bin files.
type LocalDir struct {
	baseProvider
	dir string
}

// NewLocalDir builds the local directory scanner.
func NewLocalDir(dir string, logger *slog.Logger) *LocalDir {
	return &LocalDir{
		baseProvider: baseProvider{name: "local", priority: PriorityLocal, logger: logger},
		dir:          dir,
	}
}

func (p *LocalDir) Refresh(ctx context.Context) error {
	if !p.expired() {
		return nil
	}
	var index []ImageMeta
	err := filepath.WalkDir(p.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch filepath.Ext(path) {
		case ".ota", ".zigbee", ".bin":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			p.logger.Warn("read ota file", "err", err, "path", path)
			return nil
		}
		img, err := ParseImage(data)
		if err != nil {
			p.logger.Warn("skip non-ota file", "err", err, "path", path)
			return nil
		}
		meta := ImageMeta{Key: img.Key(), Path: path}
		if img.Header.FieldControl&fieldControlHardwareVersion != 0 {
			meta.HasHardware = true
			meta.MinHardware = img.Header.MinHardwareVersion
			meta.MaxHardware = img.Header.MaxHardwareVersion
		}
		index = append(index, meta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", p.dir, err)
	}
	p.setIndex(index)
	p.logger.Debug("local ota index refreshed", "dir", p.dir, "images", len(index))
	return nil
}

func (p *LocalDir) Fetch(ctx context.Context, meta *ImageMeta) ([]byte, error) {
	return os.ReadFile(meta.Path)
}
