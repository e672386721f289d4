package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/txrecover/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show keys, stored and staged record counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	node, err := control.NewNode(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize node", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = node.Stop(ctx)
	}()

	st := node.Status(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "healthy\t%t\n", st.Healthy)
	fmt.Fprintf(w, "stored\t%d\n", st.Stored)
	fmt.Fprintf(w, "staged\t%d\n", st.Staged)
	for _, k := range st.Keys {
		fmt.Fprintf(w, "key\t%s\n", k)
	}

	names := make([]string, 0, len(st.Errors))
	for name := range st.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "error[%s]\t%s\n", name, st.Errors[name])
	}
	w.Flush()

	if !st.Healthy {
		os.Exit(1)
	}
}
