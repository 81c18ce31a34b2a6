// Package appdb is the relational persistence engine. A single SQLite
// file holds the whole device tree under version-suffixed table names;
// every mutation of the in-memory model is queued here in the same
// critical section and committed in coalesced batches.
package appdb

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DBVersion is the schema version this build reads and writes.
const DBVersion = 11

// dbV is the table suffix of the live schema.
const dbV = "_v11"

// migrationChain lists target versions in order. v2 and v9 were never
// released.
var migrationChain = []int{1, 3, 4, 5, 6, 7, 8, 10, 11}

// quietWindow is how long writes are coalesced before a batch commits.
const quietWindow = 100 * time.Millisecond

type writeOp struct {
	query string
	args  []interface{}
}

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	pending []writeOp
	timer   *time.Timer
	closed  bool

	flushErr error // first batch failure, surfaced on Flush/Close
}

// Open opens or creates the database, applies pending migrations and
// refuses files written by a newer schema.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The write queue is serviced from a single goroutine at a time.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger.With("component", "appdb")}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) userVersion() (int, error) {
	var v int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}

func (s *SQLiteStore) migrate() error {
	current, err := s.userVersion()
	if err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if current > DBVersion {
		return fmt.Errorf("user_version %d, supported %d: %w", current, DBVersion, ErrIncompatibleVersion)
	}
	// Each script copies rows into its new tables before it rebuilds their
	// indices, so foreign keys stay off until the chain is done. SQLite
	// ignores this pragma inside a transaction.
	if _, err := s.db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	for _, target := range migrationChain {
		if target <= current {
			continue
		}
		script, err := migrationFS.ReadFile(fmt.Sprintf("migrations/migration_%04d.sql", target))
		if err != nil {
			return fmt.Errorf("load migration %d: %w", target, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", target, err)
		}
		if _, err := tx.Exec(string(script)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", target, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump user_version to %d: %w", target, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", target, err)
		}
		s.logger.Info("migrated database", "from", current, "to", target)
		current = target
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	return nil
}

// enqueue schedules one write, (re)arming the quiet-window timer.
func (s *SQLiteStore) enqueue(query string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("appdb: store closed")
	}
	s.pending = append(s.pending, writeOp{query: query, args: args})
	if s.timer == nil {
		s.timer = time.AfterFunc(quietWindow, func() {
			if err := s.Flush(); err != nil {
				s.logger.Error("batch commit", "err", err)
			}
		})
	}
	return nil
}

// Flush commits every queued write in a single transaction. A failed
// batch is discarded whole so persistence never half-applies a mutation.
func (s *SQLiteStore) Flush() error {
	s.mu.Lock()
	ops := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	err := s.flushErr
	s.flushErr = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for _, op := range ops {
		if _, err := tx.Exec(op.query, op.args...); err != nil {
			tx.Rollback()
			werr := fmt.Errorf("batch write %q: %w", strings.Fields(op.query)[0], err)
			s.mu.Lock()
			s.flushErr = werr
			s.mu.Unlock()
			return werr
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Close flushes outstanding writes and closes the file.
func (s *SQLiteStore) Close() error {
	err := s.Flush()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *SQLiteStore) SaveDevice(d DeviceRecord) error {
	return s.enqueue(
		"INSERT INTO devices"+dbV+" (ieee, nwk, status, last_seen) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(ieee) DO UPDATE SET nwk=excluded.nwk, status=excluded.status, last_seen=excluded.last_seen",
		d.IEEE, d.NWK, d.Status, float64(d.LastSeen.UnixNano())/1e9)
}

func (s *SQLiteStore) DeleteDevice(ieee string) error {
	return s.enqueue("DELETE FROM devices"+dbV+" WHERE ieee = ?", ieee)
}

func (s *SQLiteStore) SaveEndpoint(e EndpointRecord) error {
	return s.enqueue(
		"INSERT INTO endpoints"+dbV+" (ieee, endpoint_id, profile_id, device_type, status) VALUES (?, ?, ?, ?, ?) "+
			"ON CONFLICT(ieee, endpoint_id) DO UPDATE SET profile_id=excluded.profile_id, device_type=excluded.device_type, status=excluded.status",
		e.IEEE, e.EndpointID, e.ProfileID, e.DeviceType, e.Status)
}

func (s *SQLiteStore) SaveInCluster(c ClusterRecord) error {
	return s.enqueue(
		"INSERT OR IGNORE INTO in_clusters"+dbV+" (ieee, endpoint_id, cluster) VALUES (?, ?, ?)",
		c.IEEE, c.EndpointID, c.ClusterID)
}

func (s *SQLiteStore) SaveOutCluster(c ClusterRecord) error {
	return s.enqueue(
		"INSERT OR IGNORE INTO out_clusters"+dbV+" (ieee, endpoint_id, cluster) VALUES (?, ?, ?)",
		c.IEEE, c.EndpointID, c.ClusterID)
}

func (s *SQLiteStore) SaveNodeDescriptor(nd NodeDescriptorRecord) error {
	return s.enqueue(
		"INSERT INTO node_descriptors"+dbV+" (ieee, descriptor) VALUES (?, ?) "+
			"ON CONFLICT(ieee) DO UPDATE SET descriptor=excluded.descriptor",
		nd.IEEE, nd.Descriptor)
}

func (s *SQLiteStore) SaveAttribute(a AttributeRecord) error {
	return s.enqueue(
		"INSERT INTO attributes_cache"+dbV+" (ieee, endpoint_id, cluster, attrid, attr_type, value, last_updated) VALUES (?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(ieee, endpoint_id, cluster, attrid) DO UPDATE SET attr_type=excluded.attr_type, value=excluded.value, last_updated=excluded.last_updated",
		a.IEEE, a.EndpointID, a.ClusterID, a.AttrID, a.Type, a.Value, float64(a.LastUpdated.UnixNano())/1e9)
}

func (s *SQLiteStore) SaveUnsupportedAttribute(u UnsupportedAttributeRecord) error {
	return s.enqueue(
		"INSERT OR IGNORE INTO unsupported_attributes"+dbV+" (ieee, endpoint_id, cluster, attrid) VALUES (?, ?, ?, ?)",
		u.IEEE, u.EndpointID, u.ClusterID, u.AttrID)
}

func (s *SQLiteStore) DeleteUnsupportedAttribute(u UnsupportedAttributeRecord) error {
	return s.enqueue(
		"DELETE FROM unsupported_attributes"+dbV+" WHERE ieee = ? AND endpoint_id = ? AND cluster = ? AND attrid = ?",
		u.IEEE, u.EndpointID, u.ClusterID, u.AttrID)
}

func (s *SQLiteStore) SaveNeighbors(deviceIEEE string, neighbors []NeighborRecord) error {
	// Scans replace the whole table slice for the scanned device.
	if err := s.enqueue("DELETE FROM neighbors"+dbV+" WHERE device_ieee = ?", deviceIEEE); err != nil {
		return err
	}
	for _, n := range neighbors {
		err := s.enqueue(
			"INSERT INTO neighbors"+dbV+" (device_ieee, extended_pan_id, ieee, nwk, device_type, rx_on_when_idle, relationship, permit_joining, depth, lqi) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			deviceIEEE, n.ExtendedPanID, n.IEEE, n.NWK, n.DeviceType, n.RxOnWhenIdle, n.Relationship, n.PermitJoining, n.Depth, n.LQI)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SaveRoutes(deviceIEEE string, routes []RouteRecord) error {
	if err := s.enqueue("DELETE FROM routes"+dbV+" WHERE device_ieee = ?", deviceIEEE); err != nil {
		return err
	}
	for _, r := range routes {
		err := s.enqueue(
			"INSERT INTO routes"+dbV+" (device_ieee, dst_nwk, route_status, memory_constrained, many_to_one, route_record_required, next_hop) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?)",
			deviceIEEE, r.DstNWK, r.RouteStatus, r.MemoryConstrained, r.ManyToOne, r.RouteRecordRequired, r.NextHop)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SaveRelays(r RelayRecord) error {
	packed := make([]byte, 0, 2*len(r.Relays))
	for _, nwk := range r.Relays {
		packed = append(packed, byte(nwk), byte(nwk>>8))
	}
	return s.enqueue(
		"INSERT INTO relays"+dbV+" (ieee, relays) VALUES (?, ?) "+
			"ON CONFLICT(ieee) DO UPDATE SET relays=excluded.relays",
		r.IEEE, packed)
}

func (s *SQLiteStore) SaveGroup(g GroupRecord) error {
	return s.enqueue(
		"INSERT INTO groups"+dbV+" (group_id, name) VALUES (?, ?) "+
			"ON CONFLICT(group_id) DO UPDATE SET name=excluded.name",
		g.GroupID, g.Name)
}

func (s *SQLiteStore) DeleteGroup(groupID uint16) error {
	return s.enqueue("DELETE FROM groups"+dbV+" WHERE group_id = ?", groupID)
}

func (s *SQLiteStore) SaveGroupMember(m GroupMemberRecord) error {
	return s.enqueue(
		"INSERT OR IGNORE INTO group_members"+dbV+" (group_id, ieee, endpoint_id) VALUES (?, ?, ?)",
		m.GroupID, m.IEEE, m.EndpointID)
}

func (s *SQLiteStore) DeleteGroupMember(m GroupMemberRecord) error {
	return s.enqueue(
		"DELETE FROM group_members"+dbV+" WHERE group_id = ? AND ieee = ? AND endpoint_id = ?",
		m.GroupID, m.IEEE, m.EndpointID)
}

func (s *SQLiteStore) SaveNetworkBackup(blob []byte) error {
	return s.enqueue("INSERT INTO network_backups"+dbV+" (backup) VALUES (?)", string(blob))
}

// Load reads the entire device tree in topological order.
func (s *SQLiteStore) Load() (*Snapshot, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	snap := &Snapshot{}

	if err := s.scan("SELECT ieee, nwk, status, last_seen FROM devices"+dbV, func(rows *sql.Rows) error {
		var d DeviceRecord
		var seen float64
		if err := rows.Scan(&d.IEEE, &d.NWK, &d.Status, &seen); err != nil {
			return err
		}
		d.LastSeen = time.Unix(0, int64(seen*1e9))
		snap.Devices = append(snap.Devices, d)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT ieee, endpoint_id, profile_id, device_type, status FROM endpoints"+dbV, func(rows *sql.Rows) error {
		var e EndpointRecord
		if err := rows.Scan(&e.IEEE, &e.EndpointID, &e.ProfileID, &e.DeviceType, &e.Status); err != nil {
			return err
		}
		snap.Endpoints = append(snap.Endpoints, e)
		return nil
	}); err != nil {
		return nil, err
	}

	for _, t := range []struct {
		table string
		dst   *[]ClusterRecord
	}{
		{"in_clusters", &snap.InClusters},
		{"out_clusters", &snap.OutClusters},
	} {
		dst := t.dst
		if err := s.scan("SELECT ieee, endpoint_id, cluster FROM "+t.table+dbV, func(rows *sql.Rows) error {
			var c ClusterRecord
			if err := rows.Scan(&c.IEEE, &c.EndpointID, &c.ClusterID); err != nil {
				return err
			}
			*dst = append(*dst, c)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := s.scan("SELECT ieee, descriptor FROM node_descriptors"+dbV, func(rows *sql.Rows) error {
		var nd NodeDescriptorRecord
		if err := rows.Scan(&nd.IEEE, &nd.Descriptor); err != nil {
			return err
		}
		snap.NodeDescriptors = append(snap.NodeDescriptors, nd)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT ieee, endpoint_id, cluster, attrid, attr_type, value, last_updated FROM attributes_cache"+dbV, func(rows *sql.Rows) error {
		var a AttributeRecord
		var updated float64
		if err := rows.Scan(&a.IEEE, &a.EndpointID, &a.ClusterID, &a.AttrID, &a.Type, &a.Value, &updated); err != nil {
			return err
		}
		a.LastUpdated = time.Unix(0, int64(updated*1e9))
		snap.Attributes = append(snap.Attributes, a)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT device_ieee, extended_pan_id, ieee, nwk, device_type, rx_on_when_idle, relationship, permit_joining, depth, lqi FROM neighbors"+dbV, func(rows *sql.Rows) error {
		var n NeighborRecord
		if err := rows.Scan(&n.DeviceIEEE, &n.ExtendedPanID, &n.IEEE, &n.NWK, &n.DeviceType, &n.RxOnWhenIdle, &n.Relationship, &n.PermitJoining, &n.Depth, &n.LQI); err != nil {
			return err
		}
		snap.Neighbors = append(snap.Neighbors, n)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT device_ieee, dst_nwk, route_status, memory_constrained, many_to_one, route_record_required, next_hop FROM routes"+dbV, func(rows *sql.Rows) error {
		var r RouteRecord
		if err := rows.Scan(&r.DeviceIEEE, &r.DstNWK, &r.RouteStatus, &r.MemoryConstrained, &r.ManyToOne, &r.RouteRecordRequired, &r.NextHop); err != nil {
			return err
		}
		snap.Routes = append(snap.Routes, r)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT ieee, relays FROM relays"+dbV, func(rows *sql.Rows) error {
		var r RelayRecord
		var packed []byte
		if err := rows.Scan(&r.IEEE, &packed); err != nil {
			return err
		}
		for i := 0; i+1 < len(packed); i += 2 {
			r.Relays = append(r.Relays, uint16(packed[i])|uint16(packed[i+1])<<8)
		}
		snap.Relays = append(snap.Relays, r)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT group_id, name FROM groups"+dbV, func(rows *sql.Rows) error {
		var g GroupRecord
		if err := rows.Scan(&g.GroupID, &g.Name); err != nil {
			return err
		}
		snap.Groups = append(snap.Groups, g)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT group_id, ieee, endpoint_id FROM group_members"+dbV, func(rows *sql.Rows) error {
		var m GroupMemberRecord
		if err := rows.Scan(&m.GroupID, &m.IEEE, &m.EndpointID); err != nil {
			return err
		}
		snap.GroupMembers = append(snap.GroupMembers, m)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT ieee, endpoint_id, cluster, attrid FROM unsupported_attributes"+dbV, func(rows *sql.Rows) error {
		var u UnsupportedAttributeRecord
		if err := rows.Scan(&u.IEEE, &u.EndpointID, &u.ClusterID, &u.AttrID); err != nil {
			return err
		}
		snap.UnsupportedAttributes = append(snap.UnsupportedAttributes, u)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan("SELECT id, backup FROM network_backups"+dbV+" ORDER BY id", func(rows *sql.Rows) error {
		var b NetworkBackupRecord
		var blob string
		if err := rows.Scan(&b.ID, &blob); err != nil {
			return err
		}
		b.Backup = []byte(blob)
		snap.NetworkBackups = append(snap.NetworkBackups, b)
		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(snap.Devices, func(i, j int) bool { return snap.Devices[i].IEEE < snap.Devices[j].IEEE })
	return snap, nil
}

func (s *SQLiteStore) scan(query string, fn func(*sql.Rows) error) error {
	rows, err := s.db.Query(query)
	if err != nil {
		return fmt.Errorf("query %q: %w", query, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
