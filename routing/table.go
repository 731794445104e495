package routing

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/interledgermesh/connector/ilp"
)

// Route is an (address-prefix, next-hop-peer, priority) triple.
type Route struct {
	Prefix   ilp.Address `json:"prefix"`
	NextHop  ilp.PeerID  `json:"nextHop"`
	Priority int         `json:"priority"`
}

// Table maps destination addresses to next-hop peers by longest-prefix match
// on dotted-segment boundaries. Lookups are wait-free relative to writes:
// writers publish a new sorted route slice, readers load it atomically.
type Table struct {
	writeMu sync.Mutex
	routes  atomic.Pointer[[]Route]
}

// NewTable returns a new empty Table.
func NewTable() *Table {
	t := &Table{}
	t.routes.Store(lo.ToPtr([]Route{}))
	return t
}

// Lookup returns the next hop for the destination. The route with the longest
// matching prefix wins; ties are broken by the lowest priority value.
func (t *Table) Lookup(destination ilp.Address) (ilp.PeerID, bool) {
	routes := *t.routes.Load()
	// routes are sorted by prefix length desc, then priority asc, so the
	// first match is the winner
	for _, route := range routes {
		if destination.HasPrefix(route.Prefix) {
			return route.NextHop, true
		}
	}
	return "", false
}

// Upsert adds the route or updates the priority of an existing
// (prefix, nextHop) pair.
func (t *Table) Upsert(prefix ilp.Address, nextHop ilp.PeerID, priority int) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	routes := append([]Route{}, *t.routes.Load()...)
	updated := false
	for i, route := range routes {
		if route.Prefix == prefix && route.NextHop == nextHop {
			routes[i].Priority = priority
			updated = true
			break
		}
	}
	if !updated {
		routes = append(routes, Route{Prefix: prefix, NextHop: nextHop, Priority: priority})
	}

	sortRoutes(routes)
	t.routes.Store(&routes)
}

// Remove deletes the (prefix, nextHop) route if present.
func (t *Table) Remove(prefix ilp.Address, nextHop ilp.PeerID) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	routes := lo.Filter(*t.routes.Load(), func(route Route, _ int) bool {
		return route.Prefix != prefix || route.NextHop != nextHop
	})
	t.routes.Store(&routes)
}

// Snapshot returns a copy of all routes in lookup order.
func (t *Table) Snapshot() []Route {
	return append([]Route{}, *t.routes.Load()...)
}

func sortRoutes(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		li, lj := len(routes[i].Prefix.Segments()), len(routes[j].Prefix.Segments())
		if li != lj {
			return li > lj
		}
		if len(routes[i].Prefix) != len(routes[j].Prefix) {
			return len(routes[i].Prefix) > len(routes[j].Prefix)
		}
		if routes[i].Priority != routes[j].Priority {
			return routes[i].Priority < routes[j].Priority
		}
		return routes[i].Prefix < routes[j].Prefix
	})
}
