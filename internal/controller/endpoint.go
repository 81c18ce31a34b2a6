package controller

import (
	"context"
	"fmt"
	"sync"

	"zigbee-appd/internal/appdb"
	"zigbee-appd/internal/zdo"
)

// Endpoint status.
type EndpointStatus uint8

const (
	EndpointNew EndpointStatus = iota
	EndpointInitialized
)

// Endpoint is one application entity on a device.
type Endpoint struct {
	device *Device
	ID     uint8

	mu          sync.RWMutex
	status      EndpointStatus
	profileID   uint16
	deviceType  uint16
	inClusters  map[uint16]*Cluster
	outClusters map[uint16]*Cluster
}

func newEndpoint(d *Device, id uint8) *Endpoint {
	return &Endpoint{
		device:      d,
		ID:          id,
		inClusters:  make(map[uint16]*Cluster),
		outClusters: make(map[uint16]*Cluster),
	}
}

// Device returns the owning device.
func (ep *Endpoint) Device() *Device {
	return ep.device
}

// ProfileID returns the application profile from the simple descriptor.
func (ep *Endpoint) ProfileID() uint16 {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.profileID
}

// DeviceType returns the application device id from the simple descriptor.
func (ep *Endpoint) DeviceType() uint16 {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.deviceType
}

// Status returns the endpoint's interview state.
func (ep *Endpoint) Status() EndpointStatus {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.status
}

// InCluster returns the server-side cluster with the given id, or nil.
func (ep *Endpoint) InCluster(id uint16) *Cluster {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.inClusters[id]
}

// OutCluster returns the client-side cluster with the given id, or nil.
func (ep *Endpoint) OutCluster(id uint16) *Cluster {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.outClusters[id]
}

// InClusters returns all server-side clusters.
func (ep *Endpoint) InClusters() []*Cluster {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	out := make([]*Cluster, 0, len(ep.inClusters))
	for _, c := range ep.inClusters {
		out = append(out, c)
	}
	return out
}

func (ep *Endpoint) markInitialized() {
	ep.mu.Lock()
	ep.status = EndpointInitialized
	ep.mu.Unlock()
}

// addCluster creates a cluster entity and writes it through. The caller
// holds no endpoint lock.
func (ep *Endpoint) addCluster(id uint16, dir ClusterDirection) *Cluster {
	ctrl := ep.device.ctrl
	cluster := newCluster(ep, id, dir)
	ieee := FormatIEEE(ep.device.IEEE)

	ep.mu.Lock()
	if dir == ClusterIn {
		ep.inClusters[id] = cluster
	} else {
		ep.outClusters[id] = cluster
	}
	ep.mu.Unlock()

	rec := appdb.ClusterRecord{IEEE: ieee, EndpointID: ep.ID, ClusterID: id}
	var err error
	if dir == ClusterIn {
		err = ctrl.store.SaveInCluster(rec)
	} else {
		err = ctrl.store.SaveOutCluster(rec)
	}
	if err != nil {
		ctrl.logger.Error("save cluster", "err", err, "ieee", ieee, "endpoint", ep.ID, "cluster", fmt.Sprintf("0x%04X", id))
	}
	return cluster
}

// fetchSimpleDescriptor interviews this endpoint and populates its
// clusters.
func (ep *Endpoint) fetchSimpleDescriptor(ctx context.Context) error {
	ctrl := ep.device.ctrl
	var sd *zdo.SimpleDescriptor
	err := retryStep(ctx, simpleDescAttempts, func() error {
		reply, err := ctrl.zdoRequest(ctx, ep.device, zdo.SimpleDescReq,
			zdo.EncodeSimpleDescReq(ep.device.NWK(), ep.ID), interviewStepTimeout)
		if err != nil {
			return err
		}
		status, _, desc, err := zdo.DecodeSimpleDescResponse(reply)
		if err != nil {
			return err
		}
		if status != zdo.StatusSuccess {
			return fmt.Errorf("simple descriptor status 0x%02X: %w", status, ErrInvalidResponse)
		}
		sd = desc
		return nil
	})
	if err != nil {
		return err
	}

	ep.mu.Lock()
	ep.profileID = sd.ProfileID
	ep.deviceType = sd.DeviceType
	ep.status = EndpointInitialized
	ep.mu.Unlock()

	ieee := FormatIEEE(ep.device.IEEE)
	if err := ctrl.store.SaveEndpoint(appdb.EndpointRecord{
		IEEE:       ieee,
		EndpointID: ep.ID,
		ProfileID:  sd.ProfileID,
		DeviceType: sd.DeviceType,
		Status:     uint8(EndpointInitialized),
	}); err != nil {
		ctrl.logger.Error("save endpoint", "err", err, "ieee", ieee, "endpoint", ep.ID)
	}

	for _, id := range sd.InClusters {
		if ep.InCluster(id) == nil {
			ep.addCluster(id, ClusterIn)
		}
	}
	for _, id := range sd.OutClusters {
		if ep.OutCluster(id) == nil {
			ep.addCluster(id, ClusterOut)
		}
	}

	ctrl.logger.Info("endpoint discovered",
		"ieee", ieee, "endpoint", ep.ID,
		"profile", fmt.Sprintf("0x%04X", sd.ProfileID),
		"device_type", fmt.Sprintf("0x%04X", sd.DeviceType),
		"in_clusters", len(sd.InClusters),
		"out_clusters", len(sd.OutClusters),
	)
	return nil
}

// restore rebuilds the endpoint from persistence rows without touching
// the store.
func (ep *Endpoint) restore(rec appdb.EndpointRecord) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.profileID = rec.ProfileID
	ep.deviceType = rec.DeviceType
	ep.status = EndpointStatus(rec.Status)
}

func (ep *Endpoint) restoreCluster(id uint16, dir ClusterDirection) *Cluster {
	cluster := newCluster(ep, id, dir)
	ep.mu.Lock()
	if dir == ClusterIn {
		ep.inClusters[id] = cluster
	} else {
		ep.outClusters[id] = cluster
	}
	ep.mu.Unlock()
	return cluster
}
