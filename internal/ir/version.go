package ir

// EngineVersion is the graphsync engine version.
const EngineVersion = "0.1.0"
