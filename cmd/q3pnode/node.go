package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/aitqkd/q3pcore/internal/keydb"
	"github.com/aitqkd/q3pcore/internal/q3pchannel"
	"github.com/aitqkd/q3pcore/internal/q3pengine"
	"github.com/aitqkd/q3pcore/internal/q3pmonitor"
	"github.com/aitqkd/q3pcore/internal/q3ptransport"
)

// channelCompressThreshold is the payload size at which the DATA
// channel starts compressing even when not encrypting.
const channelCompressThreshold = 256

// nodeConfig collects the flags shared by listen and connect: everything
// needed to open the four Key-DBs, seed an engine, and serve the control
// surface once a transport is in hand.
type nodeConfig struct {
	commonStoreSpec string
	incomingSpec    string
	outgoingSpec    string
	applicationSpec string
	pickupSpec      string

	amount uint64

	preferMaster bool
	preferSlave  bool

	authScheme string
	encScheme  string

	statusAddr string
	listenURL  string
	peerURL    string
}

func (c nodeConfig) openStores() (cs, in, out, app, pickup keydb.KeyDB, err error) {
	cs, err = openKeyDB(c.commonStoreSpec, 0, c.amount, commonStoreQuantum)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("common store: %w", err)
	}
	in, err = openKeyDB(c.incomingSpec, 0, c.amount*4, bufferQuantum)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("incoming: %w", err)
	}
	out, err = openKeyDB(c.outgoingSpec, 0, c.amount*4, bufferQuantum)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("outgoing: %w", err)
	}
	app, err = openKeyDB(c.applicationSpec, 0, c.amount*4, bufferQuantum)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("application: %w", err)
	}
	if c.pickupSpec != "" {
		pickup, err = openKeyDB(c.pickupSpec, 0, c.amount, commonStoreQuantum)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("pickup area: %w", err)
		}
	}
	return cs, in, out, app, pickup, nil
}

// readSecret loads the initial secret from a hex-encoded environment
// variable — spec.md §6 says the secret is "supplied ... as raw bytes";
// an env var keeps it off the process argument list and out of shell
// history, the nearest a CLI gets to "out of band".
func readSecret(envVar string) ([]byte, error) {
	hexSecret := os.Getenv(envVar)
	if hexSecret == "" {
		return nil, fmt.Errorf("initial secret not set: export %s as hex-encoded bytes", envVar)
	}
	return hex.DecodeString(hexSecret)
}

// runSession wires the already-opened stores and an established
// transport into an engine, runs the handshake, starts the monitor HTTP
// server, and blocks running the link's read/tick loops until ctx is
// cancelled or the link fails.
func runSession(ctx context.Context, cfg nodeConfig, transport *q3ptransport.Transport, log zerolog.Logger) error {
	cs, in, out, app, pickup, err := cfg.openStores()
	if err != nil {
		return err
	}
	defer cs.Close()
	defer in.Close()
	defer out.Close()
	defer app.Close()
	if pickup != nil {
		defer pickup.Close()
	}

	engine := q3pengine.New(cs, in, out, app, log)
	engine.Master = cfg.preferMaster
	engine.Slave = cfg.preferSlave
	engine.AuthIncoming, engine.AuthOutgoing = cfg.authScheme, cfg.authScheme
	engine.EncIncoming, engine.EncOutgoing = cfg.encScheme, cfg.encScheme
	nonce, err := randomNonce()
	if err != nil {
		return fmt.Errorf("drawing handshake nonce: %w", err)
	}
	engine.Nonce = nonce

	l := newLink(engine, transport, pickup, log)
	if err := l.handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	secret, err := readSecret("Q3P_INITIAL_SECRET")
	if err != nil {
		return err
	}
	assoc, err := primeFromSecret(engine, secret, log)
	if err != nil {
		return fmt.Errorf("seeding crypto association: %w", err)
	}
	l.channel = q3pchannel.NewChannel(0, assoc, engine.Outgoing, engine.Incoming, channelCompressThreshold, log)

	mon := q3pmonitor.New(engine, cfg.listenURL, cfg.peerURL)
	server := &http.Server{Addr: cfg.statusAddr, Handler: mon.Mux()}
	go func() {
		log.Info().Str("addr", cfg.statusAddr).Msg("status endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()
	defer server.Close()

	return l.run(ctx)
}

// randomNonce draws the handshake tie-breaker nonce. A node that never
// declares a role preference relies entirely on this being unpredictable
// — two peers drawing the same value is the hard nonce-collision failure
// chooseRole refuses to arbitrate.
func randomNonce() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
