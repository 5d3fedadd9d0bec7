package eth

// Relay authentication headers.
const (
	HeaderRelayKey       = "X-Relay-Key"
	HeaderRelaySignature = "X-Relay-Signature"
	HeaderRelayTimestamp = "X-Relay-Timestamp"
	HeaderRelaySender    = "X-Relay-Sender"
)
