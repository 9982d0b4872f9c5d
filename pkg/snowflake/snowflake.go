package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// Node hands out time-ordered int64 ids. Ids from one node are strictly
// increasing; ids from different nodes never collide.
type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node number must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < n.time {
		// Clock moved backwards; keep issuing from the last timestamp.
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time returns the creation time encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}

// NodeOf returns the node that generated id.
func NodeOf(id int64) int64 {
	return (id >> nodeShift) & nodeMax
}

// FirstID returns the smallest id any node could generate at t, so that
// id < FirstID(t) selects ids created before t.
func FirstID(t time.Time) int64 {
	return (t.UnixMilli() - epoch) << timeShift
}
