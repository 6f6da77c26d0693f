// Package presence tracks which users are currently connected to each room.
//
// State is process-local. Each room has its own lock so that busy rooms do
// not contend with each other; the tracker-wide lock only guards the room map.
package presence

import (
	"sort"
	"sync"
)

// NotifyFunc receives the room's users right after a mutation, while the
// room lock is still held. Implementations must not call back into the
// tracker for the same room.
type NotifyFunc func(users []string)

type Tracker struct {
	mu    sync.Mutex
	rooms map[string]*roomState
}

type roomState struct {
	mu sync.Mutex
	// username -> connection ids. A user added through Join has an empty set.
	users map[string]map[string]struct{}
	// removed is set once the state has been dropped from the room map.
	removed bool
}

func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[string]*roomState)}
}

// acquire returns the locked state for name, creating it when create is set.
// It returns nil when the room has no state and create is false.
func (t *Tracker) acquire(name string, create bool) *roomState {
	for {
		t.mu.Lock()
		rs, ok := t.rooms[name]
		if !ok {
			if !create {
				t.mu.Unlock()
				return nil
			}
			rs = &roomState{users: make(map[string]map[string]struct{})}
			t.rooms[name] = rs
		}
		t.mu.Unlock()

		rs.mu.Lock()
		if !rs.removed {
			return rs
		}
		// dropped between the map lookup and the lock
		rs.mu.Unlock()
	}
}

// release unlocks rs, dropping it from the room map first if it is empty.
func (t *Tracker) release(name string, rs *roomState) {
	if len(rs.users) == 0 {
		t.mu.Lock()
		if t.rooms[name] == rs {
			delete(t.rooms, name)
		}
		t.mu.Unlock()
		rs.removed = true
	}
	rs.mu.Unlock()
}

// Join marks user as present in room. Joining twice has no further effect.
func (t *Tracker) Join(room, user string) {
	rs := t.acquire(room, true)
	defer t.release(room, rs)

	if _, ok := rs.users[user]; !ok {
		rs.users[user] = make(map[string]struct{})
	}
}

// Leave removes user from room. Leaving a room one is not in is a no-op.
func (t *Tracker) Leave(room, user string) {
	rs := t.acquire(room, false)
	if rs == nil {
		return
	}
	defer t.release(room, rs)

	delete(rs.users, user)
}

// Snapshot returns the sorted users present in room.
func (t *Tracker) Snapshot(room string) []string {
	rs := t.acquire(room, false)
	if rs == nil {
		return []string{}
	}
	defer rs.mu.Unlock()

	return rs.snapshot()
}

// Connect attaches a connection to user's presence in room and then calls
// notify with the updated snapshot. The user remains present until every
// connection it attached has been disconnected.
func (t *Tracker) Connect(room, user, connID string, notify NotifyFunc) []string {
	rs := t.acquire(room, true)
	defer t.release(room, rs)

	conns, ok := rs.users[user]
	if !ok {
		conns = make(map[string]struct{})
		rs.users[user] = conns
	}
	conns[connID] = struct{}{}

	users := rs.snapshot()
	if notify != nil {
		notify(users)
	}
	return users
}

// Disconnect detaches connID. The user is removed once no connections
// remain, and the room once no users remain. notify is called with the
// resulting snapshot even when nothing changed, so callers always publish
// the current state.
func (t *Tracker) Disconnect(room, user, connID string, notify NotifyFunc) []string {
	// created if missing so notify still runs under the room lock
	rs := t.acquire(room, true)
	defer t.release(room, rs)

	if conns, ok := rs.users[user]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(rs.users, user)
		}
	}

	users := rs.snapshot()
	if notify != nil {
		notify(users)
	}
	return users
}

// Count returns how many distinct users are present in room.
func (t *Tracker) Count(room string) int {
	rs := t.acquire(room, false)
	if rs == nil {
		return 0
	}
	defer rs.mu.Unlock()

	return len(rs.users)
}

// Rooms lists rooms with at least one present user, sorted by name.
func (t *Tracker) Rooms() []string {
	t.mu.Lock()
	states := make(map[string]*roomState, len(t.rooms))
	for name, rs := range t.rooms {
		states[name] = rs
	}
	t.mu.Unlock()

	var names []string
	for name, rs := range states {
		rs.mu.Lock()
		if len(rs.users) > 0 {
			names = append(names, name)
		}
		rs.mu.Unlock()
	}
	sort.Strings(names)
	return names
}

func (rs *roomState) snapshot() []string {
	users := make([]string, 0, len(rs.users))
	for u := range rs.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
