package ir

// Version constants for persisted formats and the engine.
const (
	// FormatVersion is the persisted instance/definition body version.
	FormatVersion = "1"

	// EngineVersion is the weave engine version.
	EngineVersion = "0.1.0"
)
