// Command agentd is the host-resident daemon binary (spec §6).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/getfinn/finn/internal/agent"
	"github.com/getfinn/finn/internal/agentconfig"
)

var (
	version = "dev"
	daemon  bool
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	root := &cobra.Command{
		Use:   "agentd",
		Short: "Host-resident agent for the remote-development fabric",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the agent daemon",
		RunE:  runStart,
	}
	startCmd.Flags().BoolVar(&daemon, "daemon", false, "detach and run in the background")
	root.AddCommand(startCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report the running agent's connection and resource counts",
		RunE:  runStatus,
	})

	root.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Signal the running agent to shut down gracefully",
		RunE:  runStop,
	})

	root.AddCommand(&cobra.Command{
		Use:   "config <cloud-url>",
		Short: "Persist the relay URL the agent connects to",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfig,
	})

	root.AddCommand(&cobra.Command{
		Use:   "login [token]",
		Short: "Store a pairing-approved token",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLogin,
	})

	root.AddCommand(&cobra.Command{
		Use:   "install-service",
		Short: "Install the daemon as a platform service (not implemented on this platform)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("install-service is not implemented for this platform")
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentd %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	if daemon {
		return fmt.Errorf("--daemon is not implemented; run under a process supervisor instead")
	}

	a, err := agent.New()
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return a.Run()
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := agentconfig.Load()
	if err != nil {
		return err
	}
	addr, err := os.ReadFile(cfg.StatusAddrFile())
	if err != nil {
		fmt.Println("agent is not running")
		os.Exit(1)
		return nil
	}

	resp, err := http.Get("http://" + string(addr) + "/status")
	if err != nil {
		fmt.Println("agent is not running")
		os.Exit(1)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var info agent.StatusInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return err
	}
	fmt.Printf("agent:     %s\n", info.AgentID)
	fmt.Printf("device:    %s\n", info.DeviceID)
	fmt.Printf("relay:     %s\n", info.CloudURL)
	fmt.Printf("connected: %t\n", info.Connected)
	fmt.Printf("terminals: %d\n", info.TerminalCount)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := agentconfig.Load()
	if err != nil {
		return err
	}
	addr, err := os.ReadFile(cfg.StatusAddrFile())
	if err != nil {
		return fmt.Errorf("agent is not running")
	}
	resp, err := http.Post("http://"+string(addr)+"/stop", "application/json", nil)
	if err != nil {
		return fmt.Errorf("agent is not running")
	}
	resp.Body.Close()
	fmt.Println("stop requested")
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := agentconfig.Load()
	if err != nil {
		return err
	}
	return os.WriteFile(cfg.CloudURLFile(), []byte(args[0]), 0o600)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := agentconfig.Load()
	if err != nil {
		return err
	}
	token := ""
	if len(args) == 1 {
		token = args[0]
	} else {
		fmt.Print("paste pairing token: ")
		fmt.Scanln(&token)
	}
	if token == "" {
		return fmt.Errorf("no token supplied")
	}
	return cfg.SetToken(cfg.AgentID, token)
}
