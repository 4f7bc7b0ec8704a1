package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/gamelink/internal/infra/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status of a running connector",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := rpc.NewClient("cli", rpcURL, rpc.V1, 10*time.Second)
	defer func() {
		_ = client.Close()
	}()

	var info struct {
		Chain         string `json:"chain"`
		Blocks        int64  `json:"blocks"`
		BestBlockHash string `json:"bestblockhash"`
	}
	if err := client.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
		slog.Error("Failed to query connector", "url", rpcURL, "error", err)
		os.Exit(1)
	}

	var network struct {
		Version uint64 `json:"version"`
	}
	if err := client.Call(ctx, "getnetworkinfo", nil, &network); err != nil {
		slog.Error("Failed to query node version", "error", err)
		os.Exit(1)
	}

	var games []string
	if err := client.Call(ctx, "trackedgames", []any{"list"}, &games); err != nil {
		slog.Error("Failed to query tracked games", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "Chain\t%s\n", info.Chain)
	_, _ = fmt.Fprintf(w, "Height\t%d\n", info.Blocks)
	_, _ = fmt.Fprintf(w, "Best block\t%s\n", info.BestBlockHash)
	_, _ = fmt.Fprintf(w, "Node version\t%d\n", network.Version)
	_, _ = fmt.Fprintf(w, "Tracked games\t%v\n", games)
	_ = w.Flush()
}
