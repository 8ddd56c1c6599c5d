// Package services implements the engine use cases: temporal bundling,
// bundle metrics, semantic refinement, and window optimization.
// Services depend on the driven ports only; all inner loops are pure
// CPU and safe to run in parallel over a shared read-only snapshot.
package services
