// Package presence tracks which user is reachable through which live connection.
package presence

import (
	"sync"

	"github.com/c-pro/geche"
)

// Directory maps user ids to connection ids, one connection per user.
// A secondary connection -> user index is kept in lockstep so a disconnect,
// which carries no user id, can be resolved without scanning.
type Directory struct {
	mu     sync.Mutex
	byUser geche.Geche[string, string]
	byConn geche.Geche[string, string]
}

func NewDirectory() *Directory {
	return &Directory{
		byUser: geche.NewMapCache[string, string](),
		byConn: geche.NewMapCache[string, string](),
	}
}

// SetOnline records connID as the live connection of userID. The last
// announcement wins: a previous connection of the same user silently loses
// presence and its id is returned.
func (d *Directory) SetOnline(userID, connID string) (previous string, replaced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, err := d.byUser.Get(userID); err == nil && prev != connID {
		_ = d.byConn.Del(prev)
		previous, replaced = prev, true
	}
	// A connection speaks for a single user.
	if other, err := d.byConn.Get(connID); err == nil && other != userID {
		_ = d.byUser.Del(other)
	}

	d.byUser.Set(userID, connID)
	d.byConn.Set(connID, userID)
	return previous, replaced
}

// SetOffline removes the entry of userID. It is a no-op for unknown users.
func (d *Directory) SetOffline(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	connID, err := d.byUser.Get(userID)
	if err != nil {
		return false
	}
	_ = d.byUser.Del(userID)
	if owner, err := d.byConn.Get(connID); err == nil && owner == userID {
		_ = d.byConn.Del(connID)
	}
	return true
}

// RemoveByConnection drops whichever user is present through connID and
// returns that user's id.
func (d *Directory) RemoveByConnection(connID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, err := d.byConn.Get(connID)
	if err != nil {
		return "", false
	}
	_ = d.byConn.Del(connID)
	if current, err := d.byUser.Get(userID); err == nil && current == connID {
		_ = d.byUser.Del(userID)
	}
	return userID, true
}

// Lookup returns the live connection of userID, if any.
func (d *Directory) Lookup(userID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	connID, err := d.byUser.Get(userID)
	if err != nil {
		return "", false
	}
	return connID, true
}

// Len returns the number of users currently present.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byUser.Len()
}
