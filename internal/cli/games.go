package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/gamelink/internal/infra/rpc"
)

var gamesCmd = &cobra.Command{
	Use:   "games [add|remove|list] [gameid]",
	Short: "Manage the tracked games of a running connector",
	Args:  cobra.RangeArgs(1, 2),
	Run:   runGames,
}

func init() {
	rootCmd.AddCommand(gamesCmd)
}

func runGames(cmd *cobra.Command, args []string) {
	command := args[0]
	params := []any{command}
	if command != "list" {
		if len(args) < 2 {
			slog.Error("Missing game id", "command", command)
			os.Exit(1)
		}
		params = append(params, args[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := rpc.NewClient("cli", rpcURL, rpc.V1, 10*time.Second)
	defer func() {
		_ = client.Close()
	}()

	var games []string
	if err := client.Call(ctx, "trackedgames", params, &games); err != nil {
		slog.Error("Failed to update tracked games", "error", err)
		os.Exit(1)
	}

	for _, game := range games {
		fmt.Println(game)
	}
}
