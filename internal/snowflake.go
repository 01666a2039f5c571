package internal

// Simplified "Snowflake" ids: 41 bits of milliseconds since customEpoch,
// 10 bits of node id and 12 bits of per-millisecond sequence.
// https://en.wikipedia.org/wiki/Snowflake_ID

import (
	"errors"
	"sync"
	"time"
)

const (
	customEpoch int64 = 1704067200000 // Jan 1, 2024
	nodeIDBits  uint  = 10
	seqBits     uint  = 12
	maxNodeID   int64 = -1 ^ (-1 << nodeIDBits)
	maxSeq      int64 = -1 ^ (-1 << seqBits)
)

var ErrInvalidNodeID = errors.New("snowflake node id out of range")

type IDGenerator struct {
	mu        sync.Mutex
	lastStamp int64
	nodeID    int64
	seq       int64
	now       func() time.Time
}

func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrInvalidNodeID
	}

	return &IDGenerator{nodeID: nodeID, now: time.Now}, nil
}

// NextID returns a positive, roughly time-sortable id. When the sequence is
// exhausted it waits for the next millisecond. When the clock moved backwards
// it waits until the clock passes the last issued stamp, however long that is.
func (g *IDGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	if ts < g.lastStamp {
		ts = g.wait(ts)
	}
	if ts == g.lastStamp {
		g.seq = (g.seq + 1) & maxSeq
		if g.seq == 0 {
			ts = g.wait(ts)
		}
	} else {
		g.seq = 0
	}
	g.lastStamp = ts

	return ((ts - customEpoch) << (nodeIDBits + seqBits)) |
		(g.nodeID << seqBits) |
		g.seq
}

func (g *IDGenerator) wait(currentTS int64) int64 {
	for currentTS <= g.lastStamp {
		time.Sleep(time.Millisecond)
		currentTS = g.now().UnixMilli()
	}

	return currentTS
}
