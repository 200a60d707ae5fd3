package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aitqkd/q3pcore/internal/bitkey"
)

var injectPickupSpec string
var injectSlots uint64
var injectAmount uint64

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Seed a pickup area with random key material for STORE",
	Long: `inject fills a pickup-area Key-DB with fresh random key slots, the
way reconciled Cascade output would land there in steady state. A running
node started with the same --pickup store answers its peer's STORE
messages from it; q3pnode does not start STORE rounds itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if injectPickupSpec == "" {
			return fmt.Errorf("--pickup is required")
		}
		db, err := openKeyDB(injectPickupSpec, 0, injectAmount, commonStoreQuantum)
		if err != nil {
			return err
		}
		defer db.Close()

		bits := int(commonStoreQuantum) * 8
		for i := uint64(0); i < injectSlots; i++ {
			key, err := bitkey.RandomKey(bits)
			if err != nil {
				return err
			}
			if _, err := db.Insert(key); err != nil {
				return fmt.Errorf("inserting slot %d of %d: %w", i+1, injectSlots, err)
			}
		}
		fmt.Printf("injected %d slots (%d bytes) into %s\n", injectSlots, injectSlots*commonStoreQuantum, injectPickupSpec)
		return nil
	},
}

func init() {
	f := injectCmd.Flags()
	f.StringVar(&injectPickupSpec, "pickup", "", `"ram" or "file:<path>" (required)`)
	f.Uint64Var(&injectSlots, "slots", 16, "number of key slots to inject")
	f.Uint64Var(&injectAmount, "common-store-slots", 1<<14, "pickup area slot capacity (for sizing a new file store)")
}
