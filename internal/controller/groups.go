package controller

import (
	"fmt"
	"sync"

	"zigbee-appd/internal/appdb"
	"zigbee-appd/internal/radio"
)

// memberKey is the weak composite reference a group holds into the
// device tree.
type memberKey struct {
	IEEE       radio.EUI64
	EndpointID uint8
}

// Group is a 16-bit multicast identifier with a dynamic membership of
// (device, endpoint) pairs.
type Group struct {
	ID   uint16
	Name string

	mu      sync.RWMutex
	members map[memberKey]struct{}
}

// Members returns the member keys.
func (g *Group) Members() []memberKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]memberKey, 0, len(g.members))
	for k := range g.members {
		out = append(out, k)
	}
	return out
}

// Groups is the controller's group table.
type Groups struct {
	ctrl *Controller

	mu   sync.RWMutex
	byID map[uint16]*Group
}

func newGroups(ctrl *Controller) *Groups {
	return &Groups{ctrl: ctrl, byID: make(map[uint16]*Group)}
}

// Get returns a group by id, or nil.
func (gs *Groups) Get(id uint16) *Group {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.byID[id]
}

// All returns every group.
func (gs *Groups) All() []*Group {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	out := make([]*Group, 0, len(gs.byID))
	for _, g := range gs.byID {
		out = append(out, g)
	}
	return out
}

// Add creates a group if it does not exist and returns it.
func (gs *Groups) Add(id uint16, name string) *Group {
	gs.mu.Lock()
	g, ok := gs.byID[id]
	if !ok {
		g = &Group{ID: id, Name: name, members: make(map[memberKey]struct{})}
		gs.byID[id] = g
	}
	gs.mu.Unlock()
	if ok {
		return g
	}
	if err := gs.ctrl.store.SaveGroup(appdb.GroupRecord{GroupID: id, Name: name}); err != nil {
		gs.ctrl.logger.Error("save group", "err", err, "group", fmt.Sprintf("0x%04X", id))
	}
	gs.ctrl.events.Emit(Event{Type: EventGroupAdded, Data: map[string]interface{}{
		"group_id": id,
		"name":     name,
	}})
	return g
}

// Remove deletes a group and its membership.
func (gs *Groups) Remove(id uint16) {
	gs.mu.Lock()
	_, ok := gs.byID[id]
	delete(gs.byID, id)
	gs.mu.Unlock()
	if !ok {
		return
	}
	if err := gs.ctrl.store.DeleteGroup(id); err != nil {
		gs.ctrl.logger.Error("delete group", "err", err, "group", fmt.Sprintf("0x%04X", id))
	}
	gs.ctrl.events.Emit(Event{Type: EventGroupRemoved, Data: map[string]interface{}{
		"group_id": id,
	}})
}

// AddMember adds an endpoint to a group, creating the group on demand.
func (gs *Groups) AddMember(id uint16, ep *Endpoint) {
	g := gs.Add(id, "")
	key := memberKey{IEEE: ep.device.IEEE, EndpointID: ep.ID}
	g.mu.Lock()
	_, exists := g.members[key]
	g.members[key] = struct{}{}
	g.mu.Unlock()
	if exists {
		return
	}
	ieee := FormatIEEE(ep.device.IEEE)
	if err := gs.ctrl.store.SaveGroupMember(appdb.GroupMemberRecord{GroupID: id, IEEE: ieee, EndpointID: ep.ID}); err != nil {
		gs.ctrl.logger.Error("save group member", "err", err)
	}
	gs.ctrl.events.Emit(Event{Type: EventGroupMemberAdded, Data: map[string]interface{}{
		"group_id": id,
		"ieee":     ieee,
		"endpoint": ep.ID,
	}})
}

// RemoveMember drops an endpoint from a group; an emptied group is
// removed entirely.
func (gs *Groups) RemoveMember(id uint16, ieee radio.EUI64, endpointID uint8) {
	gs.mu.RLock()
	g := gs.byID[id]
	gs.mu.RUnlock()
	if g == nil {
		return
	}
	key := memberKey{IEEE: ieee, EndpointID: endpointID}
	g.mu.Lock()
	_, exists := g.members[key]
	delete(g.members, key)
	empty := len(g.members) == 0
	g.mu.Unlock()
	if !exists {
		return
	}
	ieeeStr := FormatIEEE(ieee)
	if err := gs.ctrl.store.DeleteGroupMember(appdb.GroupMemberRecord{GroupID: id, IEEE: ieeeStr, EndpointID: endpointID}); err != nil {
		gs.ctrl.logger.Error("delete group member", "err", err)
	}
	gs.ctrl.events.Emit(Event{Type: EventGroupMemberRemoved, Data: map[string]interface{}{
		"group_id": id,
		"ieee":     ieeeStr,
		"endpoint": endpointID,
	}})
	if empty {
		gs.Remove(id)
	}
}

// removeDevice cascades a device removal through every group.
func (gs *Groups) removeDevice(ieee radio.EUI64) {
	gs.mu.RLock()
	groups := make([]*Group, 0, len(gs.byID))
	for _, g := range gs.byID {
		groups = append(groups, g)
	}
	gs.mu.RUnlock()
	for _, g := range groups {
		for _, key := range g.Members() {
			if key.IEEE == ieee {
				gs.RemoveMember(g.ID, key.IEEE, key.EndpointID)
			}
		}
	}
}

// restore loads one group row without persistence writes or events.
func (gs *Groups) restore(rec appdb.GroupRecord) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.byID[rec.GroupID] = &Group{ID: rec.GroupID, Name: rec.Name, members: make(map[memberKey]struct{})}
}

func (gs *Groups) restoreMember(rec appdb.GroupMemberRecord) {
	ieee, err := ParseIEEE(rec.IEEE)
	if err != nil {
		return
	}
	gs.mu.RLock()
	g := gs.byID[rec.GroupID]
	gs.mu.RUnlock()
	if g == nil {
		return
	}
	g.mu.Lock()
	g.members[memberKey{IEEE: ieee, EndpointID: rec.EndpointID}] = struct{}{}
	g.mu.Unlock()
}
