// Package presence tracks which identities currently hold a live connection
// and broadcasts online/offline transitions to everyone else.
//
// The directory is keyed by identity id: a reconnect replaces the previous
// entry (last writer wins). Every mutation and the broadcast that follows it
// happen under one lock, so no connection ever observes a half-updated table.
package presence

import (
	"log"
	"sync"

	"github.com/becomeliminal/memento/core"
)

// Conn is a live connection handle. Send must not block: implementations
// queue the event and return an error when the queue is full or closed.
type Conn interface {
	Send(ev core.Event) error
}

type entry struct {
	identity core.Identity
	conn     Conn
}

// Directory is the in-memory online-user table.
type Directory struct {
	mu      sync.Mutex
	entries map[string]entry

	// OnChange, when set, is called with the online count after every
	// mutation. It runs under the directory lock.
	OnChange func(online int)
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]entry)}
}

// Register inserts or replaces the entry for identity, announces it online to
// every connection, then sends the newcomer a snapshot of the online set.
func (d *Directory) Register(identity core.Identity, conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.entries[identity.ID]; ok && prev.conn != conn {
		log.Printf("[HUB] Replacing connection for user=%s", identity.ID)
	}
	d.entries[identity.ID] = entry{identity: identity, conn: conn}
	d.changed()

	d.broadcastLocked(core.Event{
		Name: core.EventUserStatus,
		Data: core.UserStatus{UserID: identity.ID, Status: core.StatusOnline},
	})

	if err := conn.Send(core.Event{Name: core.EventOnlineUsers, Data: d.snapshotLocked()}); err != nil {
		log.Printf("[HUB] Failed to send online snapshot to user=%s: %v", identity.ID, err)
	}
}

// Unregister removes identity if conn is still its registered connection and
// announces it offline. A nil conn removes whatever is registered. It reports
// whether an entry was removed; repeated calls are no-ops.
func (d *Directory) Unregister(userID string, conn Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.entries[userID]
	if !ok {
		return false
	}
	// A close that races a reconnect must not evict the newer connection.
	if conn != nil && current.conn != conn {
		return false
	}
	delete(d.entries, userID)
	d.changed()

	d.broadcastLocked(core.Event{
		Name: core.EventUserStatus,
		Data: core.UserStatus{UserID: userID, Status: core.StatusOffline},
	})
	return true
}

// IsOnline reports whether userID has a live connection.
func (d *Directory) IsOnline(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[userID]
	return ok
}

// Route returns the live connection for userID, if any.
func (d *Directory) Route(userID string) (Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[userID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Snapshot returns the online set as the map clients expect.
func (d *Directory) Snapshot() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Count returns the number of online identities.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Directory) snapshotLocked() map[string]bool {
	online := make(map[string]bool, len(d.entries))
	for id := range d.entries {
		online[id] = true
	}
	return online
}

// broadcastLocked is best effort: a failing connection is logged and skipped,
// its own disconnect path will clean it up.
func (d *Directory) broadcastLocked(ev core.Event) {
	for id, e := range d.entries {
		if err := e.conn.Send(ev); err != nil {
			log.Printf("[HUB] Broadcast of %q to user=%s failed: %v", ev.Name, id, err)
		}
	}
}

func (d *Directory) changed() {
	if d.OnChange != nil {
		d.OnChange(len(d.entries))
	}
}
