// Command relayd is the cloud relay binary (spec §6): it authenticates
// browsers and agents, routes messages between them, enforces
// subscription-tier quotas, and persists cross-device state.
package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/getfinn/finn/internal/relay"
	"github.com/getfinn/finn/internal/relaystore"
)

var (
	version     = "dev"
	listenAddr  string
	dbPath      string
	jwtKeyHex   string
	pairURLBase string
)

func main() {
	root := &cobra.Command{
		Use:   "relayd",
		Short: "Cloud relay for the remote-development fabric",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP+websocket server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8443", "address to listen on")
	serveCmd.Flags().StringVar(&dbPath, "db", "relay.db", "path to the sqlite state file")
	serveCmd.Flags().StringVar(&jwtKeyHex, "jwt-key", os.Getenv("RELAY_JWT_KEY"), "hex-encoded HMAC key for browser session JWTs")
	serveCmd.Flags().StringVar(&pairURLBase, "pair-url-base", "https://49agents.dev/pair", "base URL prefixed to a pairing code in the pairUrl response")
	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Open the state file and apply pending schema migrations, then exit",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().StringVar(&dbPath, "db", "relay.db", "path to the sqlite state file")
	root.AddCommand(migrateCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relayd %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if jwtKeyHex == "" {
		return fmt.Errorf("--jwt-key (or RELAY_JWT_KEY) is required")
	}
	jwtKey, err := hex.DecodeString(jwtKeyHex)
	if err != nil {
		return fmt.Errorf("decode jwt key: %w", err)
	}

	store, err := relaystore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	srv := relay.NewServer(store, jwtKey, pairURLBase, logger)
	logger.Info("relayd listening", zap.String("addr", listenAddr))
	return http.ListenAndServe(listenAddr, srv.Handler())
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, err := relaystore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	fmt.Println("migrations applied")
	return nil
}
