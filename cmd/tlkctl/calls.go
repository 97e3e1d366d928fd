package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tlkv1 "github.com/matheus3301/tlk/internal/api/tlkv1"
	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/client"
	"github.com/spf13/cobra"
)

func callCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place and control calls",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current call",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Call.GetCall(ctx, &tlkv1.Empty{})
			if err != nil {
				return err
			}
			return printCall(resp)
		}),
	}

	var (
		video bool
		name  string
	)
	start := &cobra.Command{
		Use:   "start <user-id>",
		Short: "Call a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Call.StartCall(ctx, &tlkv1.StartCallRequest{RecipientID: args[0], Name: name, Video: video})
				if err != nil {
					return err
				}
				return printCall(resp)
			})(cmd, args)
		},
	}
	start.Flags().BoolVar(&video, "video", false, "start a video call")
	start.Flags().StringVar(&name, "name", "", "display name of the callee")

	accept := &cobra.Command{
		Use:   "accept",
		Short: "Answer the ringing call",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Call.AcceptCall(ctx, &tlkv1.Empty{})
			if err != nil {
				return err
			}
			return printCall(resp)
		}),
	}

	reject := &cobra.Command{
		Use:   "reject",
		Short: "Decline the ringing call",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Call.RejectCall(ctx, &tlkv1.Empty{})
			if err != nil {
				return err
			}
			return printCall(resp)
		}),
	}

	end := &cobra.Command{
		Use:     "end",
		Aliases: []string{"hangup"},
		Short:   "Hang up",
		Args:    cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Call.EndCall(ctx, &tlkv1.Empty{})
			if err != nil {
				return err
			}
			return printCall(resp)
		}),
	}

	mic := &cobra.Command{
		Use:   "mic",
		Short: "Toggle the microphone",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Call.ToggleMic(ctx, &tlkv1.Empty{})
			if err != nil {
				return err
			}
			return printToggle("Microphone", resp)
		}),
	}

	cam := &cobra.Command{
		Use:   "cam",
		Short: "Toggle the camera",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Call.ToggleCam(ctx, &tlkv1.Empty{})
			if err != nil {
				return err
			}
			return printToggle("Camera", resp)
		}),
	}

	var limit int
	log := &cobra.Command{
		Use:   "log",
		Short: "List past calls",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Call.ListCalls(ctx, &tlkv1.ListCallsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			if len(resp.Calls) == 0 {
				fmt.Println("No calls.")
				return nil
			}
			for _, e := range resp.Calls {
				dir := "out"
				if e.Incoming {
					dir = "in"
				}
				kind := "voice"
				if e.Video {
					kind = "video"
				}
				fmt.Printf("%s  %-3s %-5s %-20s %-13s %s\n",
					e.RangAt.Local().Format("2006-01-02 15:04"), dir, kind, e.PeerName, e.Outcome,
					(time.Duration(e.DurationMs) * time.Millisecond).Round(time.Second))
			}
			return nil
		}),
	}
	log.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of calls")

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream call state changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stream, err := c.Call.WatchCall(cmd.Context(), &tlkv1.Empty{})
			if err != nil {
				return err
			}
			for {
				resp, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if err := printCall(resp); err != nil {
					return err
				}
			}
		},
	}

	cmd.AddCommand(status, start, accept, reject, end, mic, cam, log, watch)
	return cmd
}

func printCall(resp *tlkv1.CallResponse) error {
	if jsonFlag {
		return outputJSON(resp)
	}
	s := resp.Call
	if s.Status == call.StatusIdle {
		fmt.Println("No call.")
		return nil
	}
	dir := "to"
	if s.Incoming {
		dir = "from"
	}
	peer := s.Remote.Name
	if peer == "" {
		peer = s.Remote.ID
	}
	line := fmt.Sprintf("%s %s %s", s.Status, dir, peer)
	switch s.Status {
	case call.StatusConnected:
		line += fmt.Sprintf(" %s", s.Duration().Round(time.Second))
	case call.StatusEnded:
		line += fmt.Sprintf(" (%s)", s.Reason)
	}
	fmt.Printf("%s  mic:%s cam:%s\n", line, onOff(s.MicEnabled), onOff(s.CamEnabled))
	return nil
}

func printToggle(what string, resp *tlkv1.ToggleResponse) error {
	if jsonFlag {
		return outputJSON(resp)
	}
	fmt.Printf("%s %s\n", what, onOff(resp.Enabled))
	return nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
