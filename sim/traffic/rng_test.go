package traffic

import (
	"testing"
)

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// BDD: Same key+name produces same sequence
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 3; i++ {
		v1 := rng1.ForSubsystem(SubsystemArrivals("N")).Float64()
		v2 := rng2.ForSubsystem(SubsystemArrivals("N")).Float64()
		if v1 != v2 {
			t.Errorf("Value %d: got %v and %v, want identical", i, v1, v2)
		}
	}
}

func TestPartitionedRNG_LaneIsolation(t *testing.T) {
	// BDD: Drawing from lane N doesn't affect lane E
	rngA := NewPartitionedRNG(NewSimulationKey(42))
	rngB := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 10; i++ {
		rngA.ForSubsystem(SubsystemArrivals("N")).Float64()
	}

	a := rngA.ForSubsystem(SubsystemArrivals("E")).Float64()
	b := rngB.ForSubsystem(SubsystemArrivals("E")).Float64()
	if a != b {
		t.Errorf("lane E first value = %v, want %v (isolation broken)", a, b)
	}
	if a == rngB.ForSubsystem(SubsystemArrivals("W")).Float64() {
		t.Error("lanes E and W share a stream")
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	if rng.ForSubsystem(SubsystemEmergencies) != rng.ForSubsystem(SubsystemEmergencies) {
		t.Error("ForSubsystem returned different instances for same name")
	}
	if rng.Key() != SimulationKey(42) {
		t.Errorf("Key() = %v, want 42", rng.Key())
	}
}
