package session

// DisconnectReason classifies why a session transitioned to Disconnected.
type DisconnectReason int

const (
	ReasonUser DisconnectReason = iota
	ReasonConnectionError
	ReasonDialError
	ReasonTimeout
	ReasonHandshakeFailed
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonUser:
		return "User"
	case ReasonConnectionError:
		return "ConnectionError"
	case ReasonDialError:
		return "DialError"
	case ReasonTimeout:
		return "Timeout"
	case ReasonHandshakeFailed:
		return "HandshakeFailed"
	default:
		return "Unknown"
	}
}

// isTransient reports whether reason describes a live session dropping
// out from under it — a reset, a timeout, a generic connection error.
// DialError is deliberately excluded even though it shares a transport
// origin with ConnectionError: a dial failure means the address itself
// is presently unreachable, a different condition from a negotiated
// session dying mid-flight, and only a peer in the latter condition
// should be retried automatically when it's merely persistent rather
// than recently live.
func (r DisconnectReason) isTransient() bool {
	return r == ReasonConnectionError || r == ReasonTimeout
}

// ShouldReconnect is the reconnection policy, written as a pure function
// of (reason, attempts, persistent, recentlyNegotiated) so it can be
// tested directly without standing up a socket. attempts is the count
// BEFORE this disconnect.
func ShouldReconnect(reason DisconnectReason, attempts int, persistent, recentlyNegotiated bool, maxAttempts int) bool {
	if reason == ReasonUser {
		return false
	}
	if !reason.isTransient() {
		return false
	}
	if attempts >= maxAttempts {
		return false
	}
	return persistent || recentlyNegotiated
}
