package controller

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"zigbee-appd/internal/radio"
)

// backupSource tags backups written by this stack.
const backupSource = "zigbee-appd"

// KeyBackup is a network or link key inside a backup blob.
type KeyBackup struct {
	Key         string `json:"key"`
	Seq         uint8  `json:"seq,omitempty"`
	PartnerIEEE string `json:"partner_ieee,omitempty"`
	RxCounter   uint32 `json:"rx_counter"`
	TxCounter   uint32 `json:"tx_counter"`
}

// NodeInfoBackup describes the coordinator in a backup blob.
type NodeInfoBackup struct {
	IEEE         string `json:"ieee"`
	NWK          uint16 `json:"nwk"`
	LogicalType  uint8  `json:"logical_type"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Version      string `json:"version,omitempty"`
}

// NetworkInfoBackup captures the network parameters of a backup blob.
type NetworkInfoBackup struct {
	ExtendedPanID string            `json:"extended_pan_id"`
	PanID         uint16            `json:"pan_id"`
	NWKUpdateID   uint8             `json:"nwk_update_id"`
	NWKManagerID  uint16            `json:"nwk_manager_id"`
	Channel       uint8             `json:"channel"`
	ChannelMask   uint32            `json:"channel_mask"`
	SecurityLevel uint8             `json:"security_level"`
	NetworkKey    KeyBackup         `json:"network_key"`
	TCLinkKey     KeyBackup         `json:"tc_link_key"`
	KeyTable      []KeyBackup       `json:"key_table,omitempty"`
	Children      []string          `json:"children,omitempty"`
	NWKAddresses  map[string]uint16 `json:"nwk_addresses,omitempty"`
	StackSpecific map[string]any    `json:"stack_specific,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	Source        string            `json:"source"`
	BackupTime    string            `json:"backup_time"`
}

// DeviceBackup is one device row inside a backup blob.
type DeviceBackup struct {
	IEEE         string `json:"ieee"`
	NWK          uint16 `json:"nwk"`
	Status       uint8  `json:"status"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
}

// NetworkBackup is the top-level backup blob shape.
type NetworkBackup struct {
	NodeInfo    NodeInfoBackup    `json:"node_info"`
	NetworkInfo NetworkInfoBackup `json:"network_info"`
	Devices     []DeviceBackup    `json:"devices"`
}

// Backup serializes the coordinator settings, keys and device table into
// a JSON blob, appending it to the network_backups table.
func (c *Controller) Backup() ([]byte, error) {
	node := c.radio.NodeInfo()
	net := c.radio.NetworkInfo()

	backup := NetworkBackup{
		NodeInfo: NodeInfoBackup{
			IEEE:        FormatIEEE(node.IEEE),
			NWK:         node.NWK,
			LogicalType: node.LogicalType,
		},
		NetworkInfo: NetworkInfoBackup{
			ExtendedPanID: FormatIEEE(net.ExtendedPanID),
			PanID:         net.PanID,
			NWKUpdateID:   net.NWKUpdateID,
			NWKManagerID:  net.NWKManagerID,
			Channel:       net.Channel,
			ChannelMask:   net.ChannelMask,
			SecurityLevel: net.SecurityLevel,
			NetworkKey: KeyBackup{
				Key:       hex.EncodeToString(net.NetworkKey.Key[:]),
				Seq:       net.NetworkKey.Seq,
				RxCounter: net.NetworkKey.RxCounter,
				TxCounter: net.NetworkKey.TxCounter,
			},
			TCLinkKey: KeyBackup{
				Key:         hex.EncodeToString(net.TCLinkKey.Key[:]),
				PartnerIEEE: FormatIEEE(net.TCLinkKey.PartnerIEEE),
				RxCounter:   net.TCLinkKey.RxCounter,
				TxCounter:   net.TCLinkKey.TxCounter,
			},
			NWKAddresses: make(map[string]uint16),
			Source:       backupSource,
			BackupTime:   time.Now().UTC().Format(time.RFC3339),
		},
	}

	for _, dev := range c.Devices() {
		backup.Devices = append(backup.Devices, DeviceBackup{
			IEEE:         FormatIEEE(dev.IEEE),
			NWK:          dev.NWK(),
			Status:       uint8(dev.Status()),
			Manufacturer: dev.Manufacturer(),
			Model:        dev.Model(),
		})
		backup.NetworkInfo.NWKAddresses[FormatIEEE(dev.IEEE)] = dev.NWK()
	}

	blob, err := json.Marshal(backup)
	if err != nil {
		return nil, fmt.Errorf("marshal backup: %w", err)
	}
	if err := c.store.SaveNetworkBackup(blob); err != nil {
		c.logger.Error("persist backup", "err", err)
	}
	return blob, nil
}

// Restore re-forms the network with the parameters of a backup blob. The
// radio must be started afterwards.
func (c *Controller) Restore(ctx context.Context, blob []byte) error {
	var backup NetworkBackup
	if err := json.Unmarshal(blob, &backup); err != nil {
		return fmt.Errorf("%v: %w", err, ErrBackupIncompatible)
	}
	if backup.NetworkInfo.Channel == 0 || backup.NetworkInfo.NetworkKey.Key == "" {
		return fmt.Errorf("missing network parameters: %w", ErrBackupIncompatible)
	}

	extPan, err := ParseIEEE(backup.NetworkInfo.ExtendedPanID)
	if err != nil {
		return fmt.Errorf("extended pan id: %w", ErrBackupIncompatible)
	}
	nodeIEEE, err := ParseIEEE(backup.NodeInfo.IEEE)
	if err != nil {
		return fmt.Errorf("node ieee: %w", ErrBackupIncompatible)
	}
	netKey, err := decodeKey(backup.NetworkInfo.NetworkKey.Key)
	if err != nil {
		return fmt.Errorf("network key: %w", ErrBackupIncompatible)
	}
	tcKey, err := decodeKey(backup.NetworkInfo.TCLinkKey.Key)
	if err != nil {
		return fmt.Errorf("tc link key: %w", ErrBackupIncompatible)
	}

	net := radio.NetworkInfo{
		ExtendedPanID: extPan,
		PanID:         backup.NetworkInfo.PanID,
		NWKUpdateID:   backup.NetworkInfo.NWKUpdateID,
		NWKManagerID:  backup.NetworkInfo.NWKManagerID,
		Channel:       backup.NetworkInfo.Channel,
		ChannelMask:   backup.NetworkInfo.ChannelMask,
		SecurityLevel: backup.NetworkInfo.SecurityLevel,
		NetworkKey: radio.KeyInfo{
			Key:       netKey,
			Seq:       backup.NetworkInfo.NetworkKey.Seq,
			RxCounter: backup.NetworkInfo.NetworkKey.RxCounter,
			TxCounter: backup.NetworkInfo.NetworkKey.TxCounter,
		},
		TCLinkKey: radio.KeyInfo{
			Key:       tcKey,
			RxCounter: backup.NetworkInfo.TCLinkKey.RxCounter,
			TxCounter: backup.NetworkInfo.TCLinkKey.TxCounter,
		},
	}
	if backup.NetworkInfo.TCLinkKey.PartnerIEEE != "" {
		if partner, err := ParseIEEE(backup.NetworkInfo.TCLinkKey.PartnerIEEE); err == nil {
			net.TCLinkKey.PartnerIEEE = partner
		}
	}
	node := radio.NodeInfo{
		IEEE:        nodeIEEE,
		NWK:         backup.NodeInfo.NWK,
		LogicalType: backup.NodeInfo.LogicalType,
	}

	if err := c.radio.WriteNetworkInfo(ctx, net, node); err != nil {
		return fmt.Errorf("write network info: %w", err)
	}

	// Recreate the device table rows so rejoining nodes keep addressing.
	c.mu.Lock()
	for _, d := range backup.Devices {
		ieee, err := ParseIEEE(d.IEEE)
		if err != nil {
			continue
		}
		if _, ok := c.devices[ieee]; ok {
			continue
		}
		dev := newDevice(c, ieee, d.NWK)
		dev.status = DeviceStatus(d.Status)
		dev.manufacturer = d.Manufacturer
		dev.model = d.Model
		c.devices[ieee] = dev
		c.nwkIndex[d.NWK] = ieee
	}
	devices := make([]*Device, 0, len(c.devices))
	for _, dev := range c.devices {
		devices = append(devices, dev)
	}
	c.mu.Unlock()
	for _, dev := range devices {
		if err := c.store.SaveDevice(dev.record()); err != nil {
			c.logger.Error("save restored device", "err", err, "ieee", FormatIEEE(dev.IEEE))
		}
	}
	return nil
}

func decodeKey(s string) ([16]byte, error) {
	var key [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(b) != 16 {
		return key, fmt.Errorf("key must be 16 bytes, got %d", len(b))
	}
	copy(key[:], b)
	return key, nil
}
