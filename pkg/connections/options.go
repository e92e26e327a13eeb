package connections

import "github.com/google/nearby-sub023/internal/config"

// AdvertisingOptions/DiscoveryOptions re-export internal/config's session
// knobs under the names an application imports.
type AdvertisingOptions = config.AdvertisingOptions
type DiscoveryOptions = config.DiscoveryOptions

// AllowedMediums re-exports the per-medium allow-set.
type AllowedMediums = config.AllowedMediums

// Strategy re-exports the three topologies.
type Strategy = config.Strategy

const (
	StrategyCluster      = config.StrategyCluster
	StrategyStar         = config.StrategyStar
	StrategyPointToPoint = config.StrategyPointToPoint
)
