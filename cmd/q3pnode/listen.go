package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aitqkd/q3pcore/internal/q3ptransport"
)

var listenCfg nodeConfig
var listenURIFlag string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept one inbound Q3P connection and run the link",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		uri, err := q3ptransport.ParsePeerURI(listenURIFlag)
		if err != nil {
			return err
		}
		ln, err := q3ptransport.Listen(uri)
		if err != nil {
			return err
		}
		defer ln.Close()
		log.Info().Str("addr", ln.Addr().String()).Msg("listening for a Q3P peer")

		transport, err := ln.Accept()
		if err != nil {
			return err
		}
		log.Info().Str("peer", transport.RemoteAddr().String()).Msg("accepted connection")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		listenCfg.listenURL = listenURIFlag
		return runSession(ctx, listenCfg, transport, log)
	},
}

func init() {
	f := listenCmd.Flags()
	f.StringVar(&listenURIFlag, "listen", "tcp://*:9303", "Peer URI to listen on")
	f.StringVar(&listenCfg.commonStoreSpec, "common-store", "ram", `"ram" or "file:<path>"`)
	f.StringVar(&listenCfg.incomingSpec, "incoming", "ram", `"ram" or "file:<path>"`)
	f.StringVar(&listenCfg.outgoingSpec, "outgoing", "ram", `"ram" or "file:<path>"`)
	f.StringVar(&listenCfg.applicationSpec, "application", "ram", `"ram" or "file:<path>"`)
	f.StringVar(&listenCfg.pickupSpec, "pickup", "", `"ram" or "file:<path>"; empty disables STORE`)
	f.Uint64Var(&listenCfg.amount, "common-store-slots", 1<<14, "Common Store slot capacity")
	f.BoolVar(&listenCfg.preferMaster, "master", false, "prefer the master role")
	f.BoolVar(&listenCfg.preferSlave, "slave", false, "prefer the slave role")
	f.StringVar(&listenCfg.authScheme, "auth-scheme", "poly1305", "authentication scheme name")
	f.StringVar(&listenCfg.encScheme, "enc-scheme", "otp-xor", "encryption scheme name")
	f.StringVar(&listenCfg.statusAddr, "status-addr", ":9080", "control-surface HTTP listen address")
}
