// Package registry is the Liveness Registry (C5): an in-memory, per-store
// state machine keyed by store_id. It is intentionally a pure state
// transition — it never performs I/O and never decides whether a
// transition's candidate alert should actually be sent (that policy lives
// in internal/alert). It only reports what happened.
package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

const shardCount = 32

// Record mirrors spec's StoreLivenessRecord.
type Record struct {
	StoreID       string
	StoreName     string
	Location      string
	Status        heartbeat.Status
	LastHeartbeat *time.Time
	FirstSeen     time.Time
	LatestMetrics *heartbeat.Heartbeat
}

// Transition describes what a registry mutation produced. AlertCandidate
// is empty when no alert is warranted. BypassCooldown is set only for a
// transition into offline from any other status (online or unknown),
// which always fires regardless of the offline cooldown.
type Transition struct {
	StoreID        string
	From           heartbeat.Status
	To             heartbeat.Status
	AlertCandidate heartbeat.AlertKind
	BypassCooldown bool
	Record         Record
}

type shard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// Registry is the sharded, per-store-serialized liveness table.
type Registry struct {
	shards [shardCount]*shard
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{records: make(map[string]*Record)}
	}
	return r
}

func (r *Registry) shardFor(storeID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(storeID))
	return r.shards[h.Sum32()%shardCount]
}

// Hydrate loads a store from persistence into memory with status
// `unknown`, used when the sweeper hydrates from persistence at startup
// (see sweeper.HydrateFromPersistence). It does not overwrite a record
// already in memory — a live heartbeat always wins over a cold load.
func (r *Registry) Hydrate(storeID, storeName string, lastHeartbeat *time.Time, firstSeen time.Time) {
	s := r.shardFor(storeID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[storeID]; exists {
		return
	}
	s.records[storeID] = &Record{
		StoreID:       storeID,
		StoreName:     storeName,
		Status:        heartbeat.StatusUnknown,
		LastHeartbeat: lastHeartbeat,
		FirstSeen:     firstSeen,
	}
}

// ReceiveHeartbeat applies the arrival of hb at receivedAt to the
// registry and returns the resulting Transition. This is the only path
// by which a store becomes (or stays) online.
func (r *Registry) ReceiveHeartbeat(hb heartbeat.Heartbeat, receivedAt time.Time) Transition {
	s := r.shardFor(hb.StoreID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[hb.StoreID]
	if !exists {
		rec = &Record{
			StoreID:   hb.StoreID,
			StoreName: hb.StoreName,
			FirstSeen: receivedAt,
		}
		s.records[hb.StoreID] = rec
	}

	from := rec.Status
	if rec.StoreName == "" {
		rec.StoreName = hb.StoreName
	}

	// A heartbeat with an older timestamp than what we've already seen is
	// still proof of life: status goes online, but last_heartbeat is not
	// rewound.
	if rec.LastHeartbeat == nil || hb.Timestamp.After(*rec.LastHeartbeat) {
		ts := hb.Timestamp
		rec.LastHeartbeat = &ts
	}
	metrics := hb
	rec.LatestMetrics = &metrics
	rec.Status = heartbeat.StatusOnline

	var candidate heartbeat.AlertKind
	switch from {
	case heartbeat.StatusOffline:
		candidate = heartbeat.KindRecovery
	case heartbeat.StatusUnknown, "":
		candidate = heartbeat.KindStartup
	case heartbeat.StatusOnline:
		if hb.IsStartup {
			candidate = heartbeat.KindStartup
		}
	}

	return Transition{
		StoreID:        hb.StoreID,
		From:           from,
		To:             heartbeat.StatusOnline,
		AlertCandidate: candidate,
		Record:         *rec,
	}
}

// Get returns a copy of the current record for storeID, if known.
func (r *Registry) Get(storeID string) (Record, bool) {
	s := r.shardFor(storeID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[storeID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every known record, for the dashboard and
// the sweeper.
func (r *Registry) Snapshot() []Record {
	var out []Record
	for _, s := range r.shards {
		s.mu.Lock()
		for _, rec := range s.records {
			out = append(out, *rec)
		}
		s.mu.Unlock()
	}
	return out
}

// MarkOffline transitions a known storeID to offline whatever its current
// status, returning the resulting Transition. BypassCooldown is true only
// when the store was not already offline.
func (r *Registry) MarkOffline(storeID string) (Transition, bool) {
	s := r.shardFor(storeID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[storeID]
	if !exists {
		return Transition{}, false
	}

	from := rec.Status
	first := from != heartbeat.StatusOffline
	rec.Status = heartbeat.StatusOffline

	return Transition{
		StoreID:        storeID,
		From:           from,
		To:             heartbeat.StatusOffline,
		AlertCandidate: heartbeat.KindOffline,
		BypassCooldown: first,
		Record:         *rec,
	}, true
}
