package traffic

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey uniquely identifies a reproducible traffic run.
// Two runs with the same SimulationKey and identical scenario MUST produce
// bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// SubsystemEmergencies is the RNG subsystem that mints emergency request IDs.
const SubsystemEmergencies = "emergencies"

// SubsystemArrivals returns the subsystem name for arrivals on one lane.
// Each lane draws from its own stream, so adding a lane never shifts the
// arrivals of another.
func SubsystemArrivals(lane string) string {
	return fmt.Sprintf("arrivals_%s", lane)
}

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
// Derived seed: masterSeed XOR fnv1a64(subsystemName).
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
