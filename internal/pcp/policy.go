package pcp

import "github.com/google/nearby-sub023/internal/frame"

// ConnectionCounts is the existing incoming/outgoing connection tally for an
// endpoint's ClientProxy session, used to enforce topology rules before a new
// connection is attempted or accepted.
type ConnectionCounts struct {
	Incoming int
	Outgoing int
}

// TopologyPolicy enforces one strategy's connection-count rules: a small
// interface with three stateless implementations, one per strategy.
type TopologyPolicy interface {
	CanSendOutgoing(c ConnectionCounts) bool
	CanReceiveIncoming(c ConnectionCounts) bool
}

type pointToPointPolicy struct{}

func (pointToPointPolicy) CanSendOutgoing(c ConnectionCounts) bool {
	return c.Incoming == 0 && c.Outgoing == 0
}

func (pointToPointPolicy) CanReceiveIncoming(c ConnectionCounts) bool {
	return c.Incoming == 0 && c.Outgoing == 0
}

type starPolicy struct{}

func (starPolicy) CanSendOutgoing(c ConnectionCounts) bool {
	return c.Incoming == 0 && c.Outgoing == 0
}

func (starPolicy) CanReceiveIncoming(c ConnectionCounts) bool {
	return c.Outgoing == 0
}

type clusterPolicy struct{}

func (clusterPolicy) CanSendOutgoing(ConnectionCounts) bool    { return true }
func (clusterPolicy) CanReceiveIncoming(ConnectionCounts) bool { return true }

// PolicyFor returns the TopologyPolicy for a strategy. Unknown strategies
// fall back to CLUSTER's unrestricted policy, the least restrictive
// topology.
func PolicyFor(s frame.Strategy) TopologyPolicy {
	switch s {
	case frame.StrategyPointToPoint:
		return pointToPointPolicy{}
	case frame.StrategyStar:
		return starPolicy{}
	default:
		return clusterPolicy{}
	}
}
