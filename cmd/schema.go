package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"companion/internal/domain/envelope"
	"companion/internal/errs"
	"companion/internal/usecase/session"
	syncsvc "companion/internal/usecase/sync"
)

// schemaCmd dumps the JSON schemas of the wire and storage shapes other
// tooling (kiosk screens, support scripts) consumes.
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print JSON schemas for cache and sync data shapes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reflector := jsonschema.Reflector{DoNotReference: true}

		schemas := map[string]*jsonschema.Schema{
			"cacheEnvelope": reflector.Reflect(&envelope.Envelope{}),
			"syncResult":    reflector.Reflect(&syncsvc.SyncResult{}),
			"logoutResult":  reflector.Reflect(&session.LogoutResult{}),
			"authState":     reflector.Reflect(&session.AuthState{}),
		}

		raw, err := json.MarshalIndent(schemas, "", "  ")
		if err != nil {
			return errs.Wrap(err, "encode schemas")
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(raw)); err != nil {
			return errs.Wrap(err, "write schema output")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
