package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/impactwatcher/internal/control"
	"github.com/vietddude/impactwatcher/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint and projection counts of the configured chain",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	backends, err := control.OpenBackends(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	block, ok, err := backends.Checkpoints.GetLastProcessedBlock(ctx)
	if err != nil {
		slog.Error("Failed to read checkpoint", "error", err)
		os.Exit(1)
	}
	marked, err := backends.Checkpoints.IsRecoveryMarked(ctx)
	if err != nil {
		slog.Error("Failed to read recovery marker", "error", err)
		os.Exit(1)
	}
	deployed, err := backends.Repos.Communities.ListDeployed(ctx)
	if err != nil {
		slog.Error("Failed to list communities", "error", err)
		os.Exit(1)
	}
	valid := 0
	for _, c := range deployed {
		if c.Status == domain.CommunityStatusValid {
			valid++
		}
	}

	checkpoint := "none"
	if ok {
		checkpoint = fmt.Sprintf("%d", block)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHAIN\tBACKEND\tCHECKPOINT\tRECOVERING\tCOMMUNITIES\tVALID")
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%d\n",
		cfg.Chain.ChainID, cfg.Checkpoint.Backend, checkpoint, marked, len(deployed), valid)
	_ = w.Flush()
}
