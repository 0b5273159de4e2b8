package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/mmynk/pocketledger/internal/service"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Addr string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session of a running ledgerd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := service.NewSessionServiceClient(&http.Client{Timeout: 10 * time.Second}, opts.Addr)
			resp, err := client.GetSession(cmd.Context(), connect.NewRequest(&service.Empty{}))
			if err != nil {
				return fmt.Errorf("failed to query %s: %w", opts.Addr, err)
			}
			return printSession(cmd.OutOrStdout(), opts.Format, resp.Msg)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "http://localhost:8080", "base URL of the running ledgerd")
	return cmd
}

func printSession(w io.Writer, format string, info *service.SessionInfo) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	identity := "<none>"
	if info.IdentityID != "" {
		identity = info.IdentityKind + ":" + info.IdentityID
		if info.Ephemeral {
			identity += " (ephemeral)"
		}
	}
	fmt.Fprintf(w, "State:       %s\n", info.State)
	fmt.Fprintf(w, "Identity:    %s\n", identity)
	fmt.Fprintf(w, "Signed in:   %t\n", info.SignedIn)
	fmt.Fprintf(w, "Schema:      %s\n", info.Variant)
	fmt.Fprintf(w, "Cloud sync:  %t\n", info.SyncEnabled)
	if info.SyncEnabled {
		fmt.Fprintf(w, "Replicator:  connected=%t pending=%d\n", info.Replicator.Connected, info.Replicator.PendingUploads)
		if info.Replicator.LastSyncedAt > 0 {
			fmt.Fprintf(w, "Last synced: %s\n", time.UnixMilli(info.Replicator.LastSyncedAt).Format(time.RFC3339))
		}
	}
	if info.Degraded {
		fmt.Fprintf(w, "Storage:     identity storage unavailable, using an in-memory identity\n")
	}
	if info.SeedWarning != "" {
		fmt.Fprintf(w, "Seed:        %s\n", info.SeedWarning)
	}
	if info.LastError != "" {
		fmt.Fprintf(w, "Last error:  %s\n", info.LastError)
	}
	return nil
}
