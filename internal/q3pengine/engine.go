// Package q3pengine implements the Q3P key-store engine: the finite-state
// lifecycle that owns a Common Store plus Incoming/Outgoing/Application
// Key-DBs, negotiates master/slave role with a peer, and dispatches the
// HANDSHAKE/LOAD/LOAD-REQUEST/STORE/DATA protocol family that keeps both
// endpoints' buffers in lock-step.
package q3pengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aitqkd/q3pcore/internal/keydb"
)

// TickInterval is the default period of the link's tick loop, which
// sweeps timed-out requests and starts periodic LOAD/LOAD-REQUEST rounds.
// Inbound messages are dispatched by a separate read loop as they
// arrive, not once per tick.
const TickInterval = 250 * time.Millisecond

// DefaultRequestTimeout is how long a LOAD or LOAD-REQUEST may stay
// outstanding before its reservations are rolled back.
const DefaultRequestTimeout = 5 * time.Second

// satedRatio is the charge fraction above which a buffer is considered
// full enough that a LOAD round skips topping it up.
const satedRatio = 0.90

// Engine owns one Q3P link's Key-DBs and protocol state machine.
type Engine struct {
	ID  uuid.UUID
	Log zerolog.Logger

	mu    sync.Mutex
	state State

	Master bool
	Slave  bool
	Nonce  uint32

	AuthIncoming string
	AuthOutgoing string
	EncIncoming  string
	EncOutgoing  string

	CommonStore keydb.KeyDB
	Incoming    keydb.KeyDB
	Outgoing    keydb.KeyDB
	Application keydb.KeyDB

	RequestTimeout time.Duration

	nextMessageID          uint32
	pending                map[uint32]*pendingRequest
	loadRequestOutstanding bool
}

// New builds an engine over the four already-opened Key-DBs. Role
// preference (master/slave/neither) and nonce are supplied by the caller
// ahead of the handshake; Nonce should be drawn fresh per handshake
// attempt (a repeat after a nonce-collision failure must pick a new one).
func New(commonStore, incoming, outgoing, application keydb.KeyDB, log zerolog.Logger) *Engine {
	return &Engine{
		ID:             uuid.New(),
		Log:            log,
		state:          StateOpen,
		CommonStore:    commonStore,
		Incoming:       incoming,
		Outgoing:       outgoing,
		Application:    application,
		RequestTimeout: DefaultRequestTimeout,
		pending:        make(map[uint32]*pendingRequest),
	}
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.state = s
}

// HandshakeMessage builds the local side's HANDSHAKE payload from the
// engine's configured role preference, schemes, and buffer windows.
func (e *Engine) HandshakeMessage() HandshakeMessage {
	spec := func(db keydb.KeyDB) BufferSpec {
		return BufferSpec{MinID: db.MinID(), MaxID: db.MaxID(), Quantum: db.Quantum()}
	}
	return HandshakeMessage{
		Master:       e.Master,
		Slave:        e.Slave,
		Nonce:        e.Nonce,
		AuthIncoming: e.AuthIncoming,
		AuthOutgoing: e.AuthOutgoing,
		EncIncoming:  e.EncIncoming,
		EncOutgoing:  e.EncOutgoing,
		CommonStore:  spec(e.CommonStore),
		Incoming:     spec(e.Incoming),
		Outgoing:     spec(e.Outgoing),
		Application:  spec(e.Application),
	}
}

// ApplyHandshake negotiates role and cross-checks peer parameters,
// transitioning the engine to Connected on success. It does not perform
// crypto-context seeding — that is the caller's job once it also has the
// shared initial secret, since the engine itself doesn't own one.
func (e *Engine) ApplyHandshake(peer *HandshakeMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	local := e.HandshakeMessage()
	isMaster, err := negotiate(&local, peer)
	if err != nil {
		return err
	}

	e.Master = isMaster
	e.Slave = !isMaster
	e.setState(StateConnected)
	return nil
}

// Charge reports a buffer's current byte occupancy and capacity.
type Charge struct {
	Used uint64
	Cap  uint64
}

func chargeOf(db keydb.KeyDB) Charge {
	return Charge{Used: db.Count() * db.Quantum(), Cap: db.Amount() * db.Quantum()}
}

// ChargeString renders the debug charge summary the spec's control
// surface exposes: "<<C:used/cap>, <I:used/cap>, <O:used/cap>, <A:used/cap>>".
func (e *Engine) ChargeString() string {
	c, i, o, a := chargeOf(e.CommonStore), chargeOf(e.Incoming), chargeOf(e.Outgoing), chargeOf(e.Application)
	return fmt.Sprintf("<<C:%d/%d>, <I:%d/%d>, <O:%d/%d>, <A:%d/%d>>",
		c.Used, c.Cap, i.Used, i.Cap, o.Used, o.Cap, a.Used, a.Cap)
}

// sated reports whether db needs no further topping up this LOAD round:
// either it's past satedRatio capacity, or it already holds at least as
// much as the Incoming buffer (no point outrunning what the peer can
// still absorb).
func sated(db, incoming keydb.KeyDB) bool {
	capacity := db.Amount()
	if capacity == 0 {
		return true
	}
	if float64(db.Count())/float64(capacity) > satedRatio {
		return true
	}
	return db.Count() >= incoming.Count()
}

func (e *Engine) allocMessageID() uint32 {
	id := e.nextMessageID
	e.nextMessageID++
	return id
}

// pendingRequest tracks an in-flight LOAD or LOAD-REQUEST's reservations
// so a timed-out response can be rolled back cleanly, or a matching
// LOAD-ACK can commit them.
type pendingRequest struct {
	correlation uuid.UUID
	deadline    time.Time
	isLoadReq   bool

	// outSrc/outDest (and appSrc/appDest, when a round reserves a second
	// section) name the Key-DBs outSection/appSection were reserved
	// against, so Tick can roll them back with the same pair they were
	// drawn from — LOAD reserves (CommonStore, buffer), STORE reserves
	// (pickup, CommonStore), and the two must not be crossed.
	outSrc, outDest keydb.KeyDB
	outSection      loadSection

	appSrc, appDest keydb.KeyDB
	appSection      loadSection
}

// Tick runs the periodic scheduler step: expired pending requests are
// rolled back and periodic scheduling resumes for them. Real LOAD/
// LOAD-REQUEST initiation from Tick is driven by the caller (engine
// owner decides cadence against real time; Tick only sweeps timeouts so
// tests can call it deterministically).
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range e.pending {
		if now.Before(p.deadline) {
			continue
		}
		e.Log.Warn().Uint32("message_id", id).Msg("q3p request timed out, rolling back reservations")
		if p.isLoadReq {
			e.loadRequestOutstanding = false
		} else {
			if p.outDest != nil {
				rollbackSection(p.outSrc, p.outDest, p.outSection)
			}
			if p.appDest != nil {
				rollbackSection(p.appSrc, p.appDest, p.appSection)
			}
		}
		delete(e.pending, id)
	}
}
