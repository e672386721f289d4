package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"

	"github.com/vietddude/txrecover/internal/core/config"
	"github.com/vietddude/txrecover/internal/infra/p2p"
	"github.com/vietddude/txrecover/internal/infra/security"
	"github.com/vietddude/txrecover/internal/resync/recovery"
)

var (
	batchSize  int
	maxElapsed time.Duration
)

var resendCmd = &cobra.Command{
	Use:   "resend <peer-url> <recipient-key>",
	Short: "Ask a peer to republish every record addressed to a key",
	Args:  cobra.ExactArgs(2),
	Run:   runResend,
}

var pushCmd = &cobra.Command{
	Use:   "push <peer-url> <file>...",
	Short: "Push encoded payload files to a peer's staging area",
	Args:  cobra.MinimumNArgs(2),
	Run:   runPush,
}

func init() {
	resendCmd.Flags().IntVar(&batchSize, "batch-size", 100, "records per batch")
	resendCmd.Flags().DurationVar(&maxElapsed, "max-elapsed", 5*time.Minute, "give up retrying after this long")
	rootCmd.AddCommand(resendCmd, pushCmd)
}

func newPeerClient(cfg *config.AppConfig) (p2p.Client, func(), error) {
	tlsConfig, err := security.ClientTLSConfig(cfg.Transport.TLS)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Transport.Protocol == "grpc" {
		c := p2p.NewGRPCClient(tlsConfig)
		return c, func() { _ = c.Close() }, nil
	}
	return p2p.NewRESTClient(cfg.Transport.Timeout, tlsConfig), func() {}, nil
}

// resendWithRetry repeats the request until it succeeds, the peer rejects
// it, or b gives up.
func resendWithRetry(
	ctx context.Context,
	client p2p.Client,
	target string,
	req recovery.ResendBatchRequest,
	b backoff.BackOff,
) (recovery.ResendBatchResponse, error) {
	var resp recovery.ResendBatchResponse
	op := func() error {
		var err error
		resp, err = client.ResendBatch(ctx, target, req)
		if err != nil && p2p.ClassifyError(err) == p2p.ActionFatal {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		slog.Warn("Resend failed, retrying", "target", target, "in", d, "error", err)
	})
	return resp, err
}

func runResend(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	client, closeClient, err := newPeerClient(cfg)
	if err != nil {
		slog.Error("Failed to create peer client", "error", err)
		os.Exit(1)
	}
	defer closeClient()

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	req := recovery.ResendBatchRequest{PublicKey: args[1], BatchSize: batchSize}
	resp, err := resendWithRetry(context.Background(), client, args[0], req, b)
	if err != nil {
		slog.Error("Resend failed", "target", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Println(resp.Total)
}

func runPush(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	client, closeClient, err := newPeerClient(cfg)
	if err != nil {
		slog.Error("Failed to create peer client", "error", err)
		os.Exit(1)
	}
	defer closeClient()

	var req recovery.PushBatchRequest
	for _, path := range args[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Failed to read payload", "file", path, "error", err)
			os.Exit(1)
		}
		req.EncodedPayloads = append(req.EncodedPayloads, data)
	}

	if err := client.PushBatch(context.Background(), args[0], req); err != nil {
		slog.Error("Push failed", "target", args[0], "error", err)
		os.Exit(1)
	}
	slog.Info("Pushed payloads", "target", args[0], "count", len(req.EncodedPayloads))
}
