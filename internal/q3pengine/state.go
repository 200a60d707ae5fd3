package q3pengine

// State is the engine's finite-state lifecycle position.
type State int

const (
	// StateInit is the engine before its Key-DBs are mounted.
	StateInit State = iota
	// StateOpen is the engine with Key-DBs mounted but no transport.
	StateOpen
	// StateConnecting is the engine waiting for a transport to become ready.
	StateConnecting
	// StateHandshake is the engine negotiating role and crypto association.
	StateHandshake
	// StateConnected is the engine exchanging LOAD/LOAD-REQUEST/STORE/DATA.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOpen:
		return "open"
	case StateConnecting:
		return "connecting"
	case StateHandshake:
		return "handshake"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
