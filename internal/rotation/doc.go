// Package rotation recommends the next crop of a rotation plan.
//
// Build derives an immutable Aggregates bundle from the reference dataset:
// the crops observed on each soil type, the dominant nutrient bias of each
// crop and the environmental band (temperature, moisture, humidity) each crop
// was observed in. Aggregates.Recommend scores the candidate crops for a soil
// against a live query and returns a ranked, normalized and explained list.
//
// Engine holds the live bundle behind an atomic pointer so a dataset refresh
// replaces the whole bundle at once while queries keep reading without locks.
package rotation
