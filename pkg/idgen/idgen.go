package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// Snowflake based ledger numbers
// ============================================================================
//
// 64 bit layout: 41 bit millisecond timestamp | 10 bit node | 12 bit sequence.
// Numbers are unique across nodes and increase with time on a single node.
// ============================================================================

const defaultNode = 1

var (
	node     *snowflake.Node
	initOnce sync.Once
	initErr  error
)

// Init sets the node id of this process. It must be called before the first
// id is generated to take effect; later calls are ignored.
func Init(nodeID int64) error {
	initOnce.Do(func() {
		snowflake.Epoch = 1704067200000 // 2024-01-01 UTC
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

func NextID() int64 {
	if err := Init(defaultNode); err != nil {
		panic(fmt.Sprintf("idgen: %v", err))
	}
	return node.Generate().Int64()
}

// GenerateTransactionNo returns e.g. CRD20240115143052_1781234567890123.
func GenerateTransactionNo() string {
	return fmt.Sprintf("CRD%s_%d", time.Now().UTC().Format("20060102150405"), NextID())
}
