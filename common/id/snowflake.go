package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init sets the node ID once per process. Instances sharing a Redis stream need distinct
// node IDs so turn IDs never collide.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns a time-ordered unique ID. Without Init it runs as node 0.
func New() int64 {
	once.Do(func() {
		node, _ = snowflake.NewNode(0)
	})
	return node.Generate().Int64()
}

// NewString is New in the decimal form used for turn and conversation IDs.
func NewString() string {
	return strconv.FormatInt(New(), 10)
}
