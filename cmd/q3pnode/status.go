package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var statusAddrFlag string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running node's control surface over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get("http://" + statusAddrFlag + "/status")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status request failed: %s", resp.Status)
		}

		var snapshot map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
			return err
		}
		pretty, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(pretty))
		return nil
	},
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusAddrFlag, "addr", "localhost:9080", "node's control-surface HTTP address")
}
