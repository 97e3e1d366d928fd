package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	tlkv1 "github.com/matheus3301/tlk/internal/api/tlkv1"
	"github.com/matheus3301/tlk/internal/client"
	"github.com/matheus3301/tlk/internal/config"
	"github.com/matheus3301/tlk/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "tlkctl",
		Short:         "Control a running tlkd session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(),
		configCmd(),
		conversationsCmd(),
		startCmd(),
		openCmd(),
		timelineCmd(),
		closeCmd(),
		sendCmd(),
		readCmd(),
		searchCmd(),
		watchCmd(),
		callCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect dials the daemon of the selected session.
func connect() (*client.Client, string, error) {
	sessionName := session.Resolve(sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		return nil, "", err
	}
	c, err := client.New(session.SocketPath(sessionName))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err)
	}
	return c, sessionName, nil
}

// withClient runs fn with a connected client and the request timeout.
func withClient(fn func(ctx context.Context, c *client.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
		defer cancel()
		return fn(ctx, c)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, name, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
			defer cancel()

			resp, err := c.Session.GetStatus(ctx, &tlkv1.Empty{})
			if err != nil {
				return fmt.Errorf("session %q: %w", name, err)
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("Session:        %s\n", resp.Session)
			fmt.Printf("Status:         %s\n", resp.Status)
			fmt.Printf("Uptime:         %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
			if resp.ProfileID != "" {
				fmt.Printf("Signed in as:   %s (%s)\n", resp.ProfileName, resp.ProfileID)
			}
			fmt.Printf("Conversations:  %d (%d unread)\n", resp.ConversationCount, resp.UnreadCount)
			fmt.Printf("Archived:       %d messages\n", resp.MessageCount)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the global configuration",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := session.ConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(session.ConfigPath())
		},
	}
	cmd.AddCommand(initCmd, pathCmd)
	return cmd
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
