package types

// Version is the canonical project version.
// The CLI and the agent share this version; `cmda info` reports both sides
// so a mismatched deployment is visible.
const Version = "0.6.1"
