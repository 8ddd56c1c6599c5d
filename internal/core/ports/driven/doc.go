package driven

// The driven ports are the engine's outbound dependencies: where
// requests come from, where sessions and reports go, how token
// sequences become vectors, and where configuration lives. The core
// services depend only on these interfaces; adapters provide the
// implementations.
