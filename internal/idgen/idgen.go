// Package idgen provides the process-wide snowflake node.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterguard/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("idgen",
	fx.Provide(NewNode),
)

// NewNode uses INSTANCE_ID as the node number; replicas must not share one.
func NewNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.InstanceID, err)
	}
	return node, nil
}
