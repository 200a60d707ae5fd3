package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aitqkd/q3pcore/internal/q3ptransport"
)

var connectCfg nodeConfig
var peerURIFlag string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Dial a peer's Q3P listener and run the link",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		uri, err := q3ptransport.ParsePeerURI(peerURIFlag)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		transport, err := q3ptransport.Dial(ctx, uri)
		if err != nil {
			return err
		}
		log.Info().Str("peer", peerURIFlag).Msg("connected")

		connectCfg.peerURL = peerURIFlag
		return runSession(ctx, connectCfg, transport, log)
	},
}

func init() {
	f := connectCmd.Flags()
	f.StringVar(&peerURIFlag, "peer", "", "Peer URI to connect to (required)")
	connectCmd.MarkFlagRequired("peer")
	f.StringVar(&connectCfg.commonStoreSpec, "common-store", "ram", `"ram" or "file:<path>"`)
	f.StringVar(&connectCfg.incomingSpec, "incoming", "ram", `"ram" or "file:<path>"`)
	f.StringVar(&connectCfg.outgoingSpec, "outgoing", "ram", `"ram" or "file:<path>"`)
	f.StringVar(&connectCfg.applicationSpec, "application", "ram", `"ram" or "file:<path>"`)
	f.StringVar(&connectCfg.pickupSpec, "pickup", "", `"ram" or "file:<path>"; empty disables STORE`)
	f.Uint64Var(&connectCfg.amount, "common-store-slots", 1<<14, "Common Store slot capacity")
	f.BoolVar(&connectCfg.preferMaster, "master", false, "prefer the master role")
	f.BoolVar(&connectCfg.preferSlave, "slave", false, "prefer the slave role")
	f.StringVar(&connectCfg.authScheme, "auth-scheme", "poly1305", "authentication scheme name")
	f.StringVar(&connectCfg.encScheme, "enc-scheme", "otp-xor", "encryption scheme name")
	f.StringVar(&connectCfg.statusAddr, "status-addr", ":9081", "control-surface HTTP listen address")
}
