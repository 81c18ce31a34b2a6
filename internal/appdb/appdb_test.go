package appdb

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zigbee.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestFreshDatabaseMigratesToLatest(t *testing.T) {
	s, _ := openTestStore(t)
	v, err := s.userVersion()
	if err != nil {
		t.Fatalf("userVersion: %v", err)
	}
	if v != DBVersion {
		t.Errorf("user_version = %d, want %d", v, DBVersion)
	}
}

func TestRefusesNewerDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", DBVersion+1)); err != nil {
		t.Fatalf("set version: %v", err)
	}
	db.Close()

	if _, err := Open(path, testLogger()); !errors.Is(err, ErrIncompatibleVersion) {
		t.Errorf("Open newer db = %v, want ErrIncompatibleVersion", err)
	}
}

func TestWriteThroughRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	ieee := "00:11:22:33:44:55:66:77"
	seen := time.Now().Truncate(time.Millisecond)

	if err := s.SaveDevice(DeviceRecord{IEEE: ieee, NWK: 0x1234, Status: 3, LastSeen: seen}); err != nil {
		t.Fatalf("SaveDevice: %v", err)
	}
	if err := s.SaveEndpoint(EndpointRecord{IEEE: ieee, EndpointID: 1, ProfileID: 0x0104, DeviceType: 266, Status: 1}); err != nil {
		t.Fatalf("SaveEndpoint: %v", err)
	}
	if err := s.SaveInCluster(ClusterRecord{IEEE: ieee, EndpointID: 1, ClusterID: 6}); err != nil {
		t.Fatalf("SaveInCluster: %v", err)
	}
	if err := s.SaveOutCluster(ClusterRecord{IEEE: ieee, EndpointID: 1, ClusterID: 25}); err != nil {
		t.Fatalf("SaveOutCluster: %v", err)
	}
	if err := s.SaveAttribute(AttributeRecord{IEEE: ieee, EndpointID: 1, ClusterID: 6, AttrID: 0, Type: 0x10, Value: []byte{1}, LastUpdated: seen}); err != nil {
		t.Fatalf("SaveAttribute: %v", err)
	}
	if err := s.SaveGroup(GroupRecord{GroupID: 0x10, Name: "living room"}); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	if err := s.SaveGroupMember(GroupMemberRecord{GroupID: 0x10, IEEE: ieee, EndpointID: 1}); err != nil {
		t.Fatalf("SaveGroupMember: %v", err)
	}
	if err := s.SaveRelays(RelayRecord{IEEE: ieee, Relays: []uint16{0x1234, 0x5678}}); err != nil {
		t.Fatalf("SaveRelays: %v", err)
	}
	if err := s.SaveNetworkBackup([]byte(`{"devices":[]}`)); err != nil {
		t.Fatalf("SaveNetworkBackup: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Devices) != 1 || snap.Devices[0].NWK != 0x1234 || snap.Devices[0].Status != 3 {
		t.Errorf("devices = %+v", snap.Devices)
	}
	if got := snap.Devices[0].LastSeen; got.Sub(seen) > time.Millisecond || seen.Sub(got) > time.Millisecond {
		t.Errorf("last_seen = %v, want ~%v", got, seen)
	}
	if len(snap.Endpoints) != 1 || snap.Endpoints[0].ProfileID != 0x0104 {
		t.Errorf("endpoints = %+v", snap.Endpoints)
	}
	if len(snap.InClusters) != 1 || len(snap.OutClusters) != 1 {
		t.Errorf("clusters = %+v / %+v", snap.InClusters, snap.OutClusters)
	}
	if len(snap.Attributes) != 1 || snap.Attributes[0].Type != 0x10 {
		t.Errorf("attributes = %+v", snap.Attributes)
	}
	if len(snap.Groups) != 1 || len(snap.GroupMembers) != 1 {
		t.Errorf("groups = %+v / %+v", snap.Groups, snap.GroupMembers)
	}
	if len(snap.Relays) != 1 || len(snap.Relays[0].Relays) != 2 || snap.Relays[0].Relays[1] != 0x5678 {
		t.Errorf("relays = %+v", snap.Relays)
	}
	if len(snap.NetworkBackups) != 1 {
		t.Errorf("backups = %+v", snap.NetworkBackups)
	}
}

func TestBatchCoalescing(t *testing.T) {
	s, _ := openTestStore(t)

	// Writes inside the quiet window land in one transaction; nothing is
	// visible until the flush.
	for i := 0; i < 10; i++ {
		if err := s.SaveDevice(DeviceRecord{IEEE: fmt.Sprintf("00:00:00:00:00:00:00:%02x", i), NWK: uint16(i)}); err != nil {
			t.Fatalf("SaveDevice: %v", err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Devices) != 10 {
		t.Errorf("devices = %d, want 10", len(snap.Devices))
	}
}

func TestCascadeDelete(t *testing.T) {
	s, _ := openTestStore(t)

	ieee := "00:11:22:33:44:55:66:77"
	s.SaveDevice(DeviceRecord{IEEE: ieee, NWK: 1})
	s.SaveEndpoint(EndpointRecord{IEEE: ieee, EndpointID: 1, ProfileID: 0x0104})
	s.SaveInCluster(ClusterRecord{IEEE: ieee, EndpointID: 1, ClusterID: 6})
	s.SaveOutCluster(ClusterRecord{IEEE: ieee, EndpointID: 1, ClusterID: 25})
	s.SaveAttribute(AttributeRecord{IEEE: ieee, EndpointID: 1, ClusterID: 6, AttrID: 0, Type: 0x10, Value: []byte{1}})
	s.SaveNodeDescriptor(NodeDescriptorRecord{IEEE: ieee, Descriptor: make([]byte, 13)})
	s.SaveNeighbors(ieee, []NeighborRecord{{DeviceIEEE: ieee, IEEE: "aa:aa:aa:aa:aa:aa:aa:aa", ExtendedPanID: "01:02:03:04:05:06:07:08"}})
	s.SaveRoutes(ieee, []RouteRecord{{DeviceIEEE: ieee, DstNWK: 2, NextHop: 3}})
	s.SaveRelays(RelayRecord{IEEE: ieee, Relays: []uint16{0x0001}})
	s.SaveGroup(GroupRecord{GroupID: 0x10})
	s.SaveGroupMember(GroupMemberRecord{GroupID: 0x10, IEEE: ieee, EndpointID: 1})
	s.SaveUnsupportedAttribute(UnsupportedAttributeRecord{IEEE: ieee, EndpointID: 1, ClusterID: 6, AttrID: 0x4000})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := s.DeleteDevice(ieee); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush after delete: %v", err)
	}

	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Devices) != 0 || len(snap.Endpoints) != 0 || len(snap.InClusters) != 0 ||
		len(snap.OutClusters) != 0 || len(snap.Attributes) != 0 || len(snap.NodeDescriptors) != 0 ||
		len(snap.Neighbors) != 0 || len(snap.Routes) != 0 || len(snap.Relays) != 0 ||
		len(snap.GroupMembers) != 0 || len(snap.UnsupportedAttributes) != 0 {
		t.Errorf("cascade left rows: %+v", snap)
	}
	// The group itself survives; only the membership cascades.
	if len(snap.Groups) != 1 {
		t.Errorf("groups = %+v", snap.Groups)
	}
}

// seedV3 builds a database at schema v3 and applies the fixture rows.
func seedV3(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer db.Close()

	for _, target := range []int{1, 3} {
		script, err := migrationFS.ReadFile(fmt.Sprintf("migrations/migration_%04d.sql", target))
		if err != nil {
			t.Fatalf("load migration %d: %v", target, err)
		}
		if _, err := db.Exec(string(script)); err != nil {
			t.Fatalf("apply migration %d: %v", target, err)
		}
	}
	fixture, err := os.ReadFile("testdata/simple_v3.sql")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if _, err := db.Exec(string(fixture)); err != nil {
		t.Fatalf("apply fixture: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 3"); err != nil {
		t.Fatalf("set version: %v", err)
	}
}

func TestMigrationChainFromV3(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v3.db")
	seedV3(t, path)

	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	v, err := s.userVersion()
	if err != nil {
		t.Fatalf("userVersion: %v", err)
	}
	if v != DBVersion {
		t.Fatalf("user_version = %d, want %d", v, DBVersion)
	}

	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Devices) != 1 {
		t.Fatalf("devices = %+v", snap.Devices)
	}
	d := snap.Devices[0]
	if d.IEEE != "00:11:22:33:44:55:66:77" || d.NWK != 4660 || d.Status != 3 {
		t.Errorf("device = %+v", d)
	}
	// Added fields initialize to defined defaults.
	if !d.LastSeen.Equal(time.Unix(0, 0)) {
		t.Errorf("migrated last_seen = %v, want epoch default", d.LastSeen)
	}
	if len(snap.Endpoints) != 2 {
		t.Errorf("endpoints = %+v", snap.Endpoints)
	}
	if len(snap.InClusters) != 2 || len(snap.OutClusters) != 1 {
		t.Errorf("clusters = %+v / %+v", snap.InClusters, snap.OutClusters)
	}
	if len(snap.Attributes) != 2 {
		t.Fatalf("attributes = %+v", snap.Attributes)
	}
	for _, a := range snap.Attributes {
		// v5 introduced the wire type column with an unknown default.
		if a.Type != 0xFF {
			t.Errorf("attribute type = 0x%02X, want 0xFF default", a.Type)
		}
	}
	if len(snap.NodeDescriptors) != 1 || len(snap.NodeDescriptors[0].Descriptor) != 13 {
		t.Errorf("node descriptors = %+v", snap.NodeDescriptors)
	}
	if len(snap.Groups) != 1 || snap.Groups[0].Name != "living room" {
		t.Errorf("groups = %+v", snap.Groups)
	}
	if len(snap.GroupMembers) != 1 {
		t.Errorf("group members = %+v", snap.GroupMembers)
	}
	if len(snap.Relays) != 1 || len(snap.Relays[0].Relays) != 1 || snap.Relays[0].Relays[0] != 0x1234 {
		t.Errorf("relays = %+v", snap.Relays)
	}
}

func TestMigratedMatchesFreshlyWritten(t *testing.T) {
	// A tree migrated v3 -> v11 must load identically to the same tree
	// written directly at v11, modulo fields added with defaults.
	migratedPath := filepath.Join(t.TempDir(), "migrated.db")
	seedV3(t, migratedPath)
	migrated, err := Open(migratedPath, testLogger())
	if err != nil {
		t.Fatalf("Open migrated: %v", err)
	}
	defer migrated.Close()

	fresh, _ := openTestStore(t)
	ieee := "00:11:22:33:44:55:66:77"
	fresh.SaveDevice(DeviceRecord{IEEE: ieee, NWK: 4660, Status: 3, LastSeen: time.Unix(0, 0)})
	fresh.SaveEndpoint(EndpointRecord{IEEE: ieee, EndpointID: 1, ProfileID: 260, DeviceType: 266, Status: 1})
	fresh.SaveEndpoint(EndpointRecord{IEEE: ieee, EndpointID: 242, ProfileID: 41440, DeviceType: 97, Status: 1})
	fresh.SaveInCluster(ClusterRecord{IEEE: ieee, EndpointID: 1, ClusterID: 0})
	fresh.SaveInCluster(ClusterRecord{IEEE: ieee, EndpointID: 1, ClusterID: 6})
	fresh.SaveOutCluster(ClusterRecord{IEEE: ieee, EndpointID: 1, ClusterID: 25})
	if err := fresh.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ms, err := migrated.Load()
	if err != nil {
		t.Fatalf("Load migrated: %v", err)
	}
	fs, err := fresh.Load()
	if err != nil {
		t.Fatalf("Load fresh: %v", err)
	}

	if len(ms.Devices) != len(fs.Devices) || ms.Devices[0] != fs.Devices[0] {
		t.Errorf("devices differ: %+v vs %+v", ms.Devices, fs.Devices)
	}
	if len(ms.Endpoints) != len(fs.Endpoints) {
		t.Errorf("endpoints differ: %+v vs %+v", ms.Endpoints, fs.Endpoints)
	}
	if len(ms.InClusters) != len(fs.InClusters) || len(ms.OutClusters) != len(fs.OutClusters) {
		t.Errorf("clusters differ")
	}
}

func TestVirtualAttributeRows(t *testing.T) {
	// attributes_cache references devices only, so rows for endpoints
	// that were never interviewed still persist.
	s, _ := openTestStore(t)
	ieee := "00:11:22:33:44:55:66:77"
	s.SaveDevice(DeviceRecord{IEEE: ieee, NWK: 1})
	if err := s.SaveAttribute(AttributeRecord{IEEE: ieee, EndpointID: 99, ClusterID: 0xFC00, AttrID: 1, Type: 0x20, Value: []byte{7}}); err != nil {
		t.Fatalf("SaveAttribute: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Attributes) != 1 || snap.Attributes[0].EndpointID != 99 {
		t.Errorf("attributes = %+v", snap.Attributes)
	}
}
