package conduit

import (
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// PeerStats summarizes the traffic exchanged with one peer.
type PeerStats struct {
	RemoteAddr     string
	Connected      bool
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	// Time of the last frame received from the peer. Zero if nothing was received.
	LastSeen  time.Time
	FramesIn  uint64
	FramesOut uint64
}

// peerHistory remembers the final stats of disconnected peers for a limited
// time so that operators can see who was recently connected.
type peerHistory struct {
	cache *gocache.Cache
}

// newPeerHistory returns nil if ttl is not positive, which disables history.
func newPeerHistory(ttl time.Duration) *peerHistory {
	if ttl <= 0 {
		return nil
	}
	// No janitor goroutine; expired entries are skipped on read and purged on write.
	return &peerHistory{cache: gocache.New(ttl, 0)}
}

func (h *peerHistory) record(stats PeerStats) {
	if h == nil {
		return
	}
	h.cache.DeleteExpired()
	h.cache.SetDefault(stats.RemoteAddr, stats)
}

func (h *peerHistory) get(addr string) (PeerStats, bool) {
	if h == nil {
		return PeerStats{}, false
	}
	v, ok := h.cache.Get(addr)
	if !ok {
		return PeerStats{}, false
	}
	return v.(PeerStats), true
}

func (h *peerHistory) all() []PeerStats {
	if h == nil {
		return nil
	}
	items := h.cache.Items()
	stats := make([]PeerStats, 0, len(items))
	for _, item := range items {
		stats = append(stats, item.Object.(PeerStats))
	}
	return stats
}

func sortPeerStats(stats []PeerStats) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].RemoteAddr != stats[j].RemoteAddr {
			return stats[i].RemoteAddr < stats[j].RemoteAddr
		}
		// Live entries sort ahead of history for the same address.
		return stats[i].Connected && !stats[j].Connected
	})
}
