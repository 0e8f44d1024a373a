package conduit

import (
	"container/list"
	"sync"
)

// A concurrency-safe wrapper around container/list for maintaining the set of live connections.
type connectionList struct {
	connections *list.List
	sync.RWMutex
}

func newConnectionList() *connectionList {
	return &connectionList{connections: list.New()}
}

func (cl *connectionList) add(c *Connection) {
	cl.Lock()
	cl.connections.PushBack(c)
	cl.Unlock()
}

// remove drops c from the list, returning false if it was not present.
// Note: this comparison is by identity, two connections from the same address are distinct.
func (cl *connectionList) remove(c *Connection) bool {
	cl.Lock()
	defer cl.Unlock()

	for elem := cl.connections.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*Connection) == c {
			cl.connections.Remove(elem)
			return true
		}
	}
	return false
}

// snapshot returns the live connections in the order they were accepted.
func (cl *connectionList) snapshot() []*Connection {
	cl.RLock()
	defer cl.RUnlock()

	connections := make([]*Connection, 0, cl.connections.Len())
	for elem := cl.connections.Front(); elem != nil; elem = elem.Next() {
		connections = append(connections, elem.Value.(*Connection))
	}
	return connections
}

// drain empties the list and returns everything that was in it.
func (cl *connectionList) drain() []*Connection {
	cl.Lock()
	defer cl.Unlock()

	connections := make([]*Connection, 0, cl.connections.Len())
	for elem := cl.connections.Front(); elem != nil; elem = elem.Next() {
		connections = append(connections, elem.Value.(*Connection))
	}
	cl.connections.Init()
	return connections
}

func (cl *connectionList) len() int {
	cl.RLock()
	defer cl.RUnlock()
	return cl.connections.Len()
}
