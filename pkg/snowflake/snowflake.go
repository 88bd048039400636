// Package snowflake generates time-ordered ids used as push keys in the
// realtime tree.
package snowflake

import (
	"errors"
	"fmt"
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

	// keyWidth is the decimal width of the largest positive int64.
	keyWidth = 19
)

var ErrNodeRange = errors.New("node number must be between 0 and 1023")

type Node struct {
	mu    sync.Mutex
	last  int64
	node  int64
	step  int64
	clock func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeRange
	}
	return &Node{
		node:  node,
		clock: func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate returns the next id. Ids from one node are strictly increasing,
// even when the wall clock steps backwards.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// sequence exhausted for this millisecond
			for now <= n.last {
				now = n.clock()
				if now < n.last {
					now = n.last + 1
				}
			}
		}
	} else {
		n.step = 0
	}
	n.last = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Key returns a new id rendered as a fixed-width decimal string, so push
// keys sort lexicographically in creation order.
func (n *Node) Key() string {
	return FormatKey(n.Generate())
}

func FormatKey(id int64) string {
	return fmt.Sprintf("%0*d", keyWidth, id)
}

// Time extracts the creation time encoded in an id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
