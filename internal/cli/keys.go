package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/txrecover/internal/control"
	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/enclave"
)

var (
	fromKey string
	toKeys  []string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a box key pair for the keys section",
	Run: func(cmd *cobra.Command, args []string) {
		kp, err := enclave.GenerateKeyPair()
		if err != nil {
			slog.Error("Failed to generate key pair", "error", err)
			os.Exit(1)
		}
		fmt.Printf("- public: %s\n  private: %s\n", kp.Public, kp.PrivateString())
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Seal a file for recipients and store it on this node",
	Args:  cobra.ExactArgs(1),
	Run:   runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&fromKey, "from", "", "sender key (default: first configured key)")
	submitCmd.Flags().StringSliceVar(&toKeys, "to", nil, "recipient keys")
	_ = submitCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(keygenCmd, submitCmd)
}

type durable interface {
	Durable() bool
}

// requireDurable rejects stores that would drop the record on exit.
func requireDurable(n durable) error {
	if !n.Durable() {
		return errors.New("primary store is in memory; set database.url so the record outlives this command")
	}
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	plaintext, err := os.ReadFile(args[0])
	if err != nil {
		slog.Error("Failed to read file", "file", args[0], "error", err)
		os.Exit(1)
	}

	recipients := make([]domain.PublicKey, 0, len(toKeys))
	for _, k := range toKeys {
		key, err := domain.ParsePublicKey(k)
		if err != nil {
			slog.Error("Invalid recipient key", "key", k, "error", err)
			os.Exit(1)
		}
		recipients = append(recipients, key)
	}

	ctx := context.Background()
	node, err := control.NewNode(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize node", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = node.Stop(ctx)
	}()

	if err := requireDurable(node); err != nil {
		slog.Error("Refusing to submit", "error", err)
		os.Exit(1)
	}

	keys := node.Enclave().PublicKeys()
	if len(keys) == 0 {
		slog.Error("No keys configured")
		os.Exit(1)
	}
	sender := keys[0]
	if fromKey != "" {
		if sender, err = domain.ParsePublicKey(fromKey); err != nil {
			slog.Error("Invalid sender key", "key", fromKey, "error", err)
			os.Exit(1)
		}
	}

	hash, err := node.Submit(ctx, plaintext, sender, recipients)
	if err != nil {
		slog.Error("Submit failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
