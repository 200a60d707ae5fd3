package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aitqkd/q3pcore/internal/keydb"
	"github.com/aitqkd/q3pcore/internal/q3pchannel"
	"github.com/aitqkd/q3pcore/internal/q3pengine"
	"github.com/aitqkd/q3pcore/internal/q3pmsg"
	"github.com/aitqkd/q3pcore/internal/q3ptransport"
)

// link drives one connected engine: it runs the HANDSHAKE exchange, then
// a read loop dispatching inbound LOAD/LOAD-REQUEST/STORE/DATA frames to
// the engine and a tick loop that periodically initiates LOAD rounds as
// master. It plays the role cmd/api/main.go's ServeMux + loggingMiddleware
// played for the teacher's HTTP surface, generalized to a persistent TCP
// peer instead of short-lived request/response.
type link struct {
	engine    *q3pengine.Engine
	transport *q3ptransport.Transport
	pickup    keydb.KeyDB
	channel   *q3pchannel.Channel // armed after the initial secret is seeded; nil until then
	channelID uint16
	log       zerolog.Logger
}

func newLink(engine *q3pengine.Engine, transport *q3ptransport.Transport, pickup keydb.KeyDB, log zerolog.Logger) *link {
	return &link{engine: engine, transport: transport, pickup: pickup, log: log}
}

// handshake exchanges HANDSHAKE messages with the peer and negotiates
// role. The two sides must write before they both try to read, so the
// write happens on its own goroutine.
func (l *link) handshake() error {
	local := l.engine.HandshakeMessage()

	var sendErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		sendErr = l.send(q3pmsg.ProtocolHandshake, 0, local.Marshal())
	}()

	frame, err := l.transport.ReadFrame()
	<-done
	if sendErr != nil {
		return fmt.Errorf("sending handshake: %w", sendErr)
	}
	if err != nil {
		return fmt.Errorf("reading peer handshake: %w", err)
	}

	h, err := q3pmsg.DecodeHeader(frame)
	if err != nil {
		return err
	}
	if h.ProtocolID != q3pmsg.ProtocolHandshake {
		return fmt.Errorf("expected handshake, got protocol id %d", h.ProtocolID)
	}
	m, err := q3pmsg.Unmarshal(frame, 0)
	if err != nil {
		return err
	}
	peer, err := q3pengine.UnmarshalHandshake(m.Payload)
	if err != nil {
		return err
	}
	if err := l.engine.ApplyHandshake(peer); err != nil {
		return err
	}
	l.log.Info().Bool("master", l.engine.Master).Str("state", l.engine.State().String()).Msg("handshake complete")
	return nil
}

func (l *link) send(protocolID uint8, msgID uint32, payload []byte) error {
	msg := q3pmsg.New(l.channelID, protocolID, msgID, payload)
	return l.transport.WriteFrame(msg.Marshal())
}

// run drives the read loop and the periodic tick loop until ctx is
// cancelled or the transport fails.
func (l *link) run(ctx context.Context) error {
	var wg sync.WaitGroup
	errc := make(chan error, 2)

	wg.Add(2)
	go func() { defer wg.Done(); errc <- l.readLoop(ctx) }()
	go func() { defer wg.Done(); errc <- l.tickLoop(ctx) }()

	// readLoop blocks in Transport.ReadFrame, which a context cancellation
	// alone can't interrupt — closing the socket is what wakes it up.
	go func() {
		<-ctx.Done()
		_ = l.transport.Close()
	}()

	err := <-errc
	_ = l.transport.Close()
	wg.Wait()
	return err
}

func (l *link) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := l.transport.ReadFrame()
		if err != nil {
			return err
		}
		if err := l.dispatch(frame); err != nil {
			l.log.Warn().Err(err).Msg("dropping malformed or unanswerable frame")
		}
	}
}

func (l *link) dispatch(frame []byte) error {
	h, err := q3pmsg.DecodeHeader(frame)
	if err != nil {
		return err
	}
	m, err := q3pmsg.Unmarshal(frame, 0)
	if err != nil {
		return err
	}

	switch h.ProtocolID {
	case q3pmsg.ProtocolLoad:
		p, err := q3pengine.UnmarshalLoad(m.Payload)
		if err != nil {
			return err
		}
		ack := l.engine.ApplyLoad(h.MessageID, *p)
		return l.send(q3pmsg.ProtocolLoadAck, h.MessageID, ack.Marshal())

	case q3pmsg.ProtocolLoadAck:
		ack, err := q3pengine.UnmarshalLoadAck(m.Payload)
		if err != nil {
			return err
		}
		return l.engine.ApplyLoadAck(*ack)

	case q3pmsg.ProtocolLoadRequest:
		req, err := q3pengine.UnmarshalLoadRequest(m.Payload)
		if err != nil {
			return err
		}
		msgID, payload, err := l.engine.ApplyLoadRequest(*req)
		if err != nil {
			return err
		}
		return l.send(q3pmsg.ProtocolLoad, msgID, payload.Marshal())

	case q3pmsg.ProtocolStore:
		p, err := q3pengine.UnmarshalStore(m.Payload)
		if err != nil {
			return err
		}
		if l.pickup == nil {
			return fmt.Errorf("received STORE with no pickup area mounted")
		}
		ack := l.engine.ApplyStore(h.MessageID, l.pickup, *p)
		return l.send(q3pmsg.ProtocolStoreAck, h.MessageID, ack.Marshal())

	case q3pmsg.ProtocolStoreAck:
		ack, err := q3pengine.UnmarshalStoreAck(m.Payload)
		if err != nil {
			return err
		}
		if l.pickup == nil {
			return fmt.Errorf("received STORE-ACK with no pickup area mounted")
		}
		return l.engine.ApplyStoreAck(l.pickup, *ack)

	case q3pmsg.ProtocolData:
		if l.channel == nil {
			return fmt.Errorf("received DATA before the crypto association was seeded")
		}
		decoded, err := l.channel.Decode(frame)
		if err != nil {
			return err
		}
		l.log.Info().Int("bytes", len(decoded.Payload)).Msg("received application data")
		return nil

	default:
		return fmt.Errorf("unknown protocol id %d", h.ProtocolID)
	}
}

// tickLoop expires overdue pending requests every TickInterval and, while
// master, opens a new LOAD round whenever a buffer needs topping up.
func (l *link) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(q3pengine.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.engine.Tick(now)
			if l.engine.Master {
				if err := l.maybeLoad(); err != nil {
					l.log.Warn().Err(err).Msg("periodic LOAD round skipped")
				}
			} else if err := l.maybeRequest(); err != nil {
				l.log.Warn().Err(err).Msg("LOAD-REQUEST skipped")
			}
		}
	}
}

func (l *link) maybeLoad() error {
	outBytes, appBytes := l.engine.PeriodicLoadTargets()
	if outBytes == 0 && appBytes == 0 {
		return nil
	}
	msgID, payload, err := l.engine.BuildLoad(outBytes, appBytes)
	if err != nil {
		return err
	}
	return l.send(q3pmsg.ProtocolLoad, msgID, payload.Marshal())
}

func (l *link) maybeRequest() error {
	msgID, payload, ok := l.engine.BuildLoadRequest()
	if !ok {
		return nil
	}
	return l.send(q3pmsg.ProtocolLoadRequest, msgID, payload.Marshal())
}
