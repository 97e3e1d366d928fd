package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tlkv1 "github.com/matheus3301/tlk/internal/api/tlkv1"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/client"
	"github.com/spf13/cobra"
)

func conversationsCmd() *cobra.Command {
	var (
		reload bool
		filter string
	)
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			var (
				resp *tlkv1.ListConversationsResponse
				err  error
			)
			req := &tlkv1.ListConversationsRequest{Query: filter}
			if reload {
				resp, err = c.Conversation.Reload(ctx, req)
			} else {
				resp, err = c.Conversation.ListConversations(ctx, req)
			}
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			if len(resp.Conversations) == 0 {
				if filter != "" {
					fmt.Printf("No conversations matching %q.\n", filter)
					return nil
				}
				fmt.Println("No conversations.")
				return nil
			}
			for _, conv := range resp.Conversations {
				preview := ""
				if conv.LastMessage != nil {
					preview = conv.LastMessage.Preview()
				}
				unread := ""
				if conv.UnreadCount > 0 {
					unread = fmt.Sprintf("(%d)", conv.UnreadCount)
				}
				fmt.Printf("%-26s %-20s %-5s %s\n", conv.ID, conv.OtherParticipant.DisplayName(), unread, truncate(preview, 50))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&reload, "reload", false, "fetch the list from the backend first")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only conversations whose participant name contains this text")
	return cmd
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <user-id>",
		Short: "Start a conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Conversation.Start(ctx, &tlkv1.StartConversationRequest{RecipientID: args[0]})
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(resp)
				}
				fmt.Println(resp.Conversation.ID)
				return nil
			})(cmd, args)
		},
	}
}

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <conversation-id>",
		Short: "Open a conversation and print its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Conversation.Open(ctx, &tlkv1.ConversationRequest{ConversationID: args[0]})
				if err != nil {
					return err
				}
				return printTimeline(resp)
			})(cmd, args)
		},
	}
}

func timelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Print the open conversation",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Conversation.GetTimeline(ctx, &tlkv1.Empty{})
			if err != nil {
				return err
			}
			return printTimeline(resp)
		}),
	}
}

func closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Close the open conversation",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			_, err := c.Conversation.Close(ctx, &tlkv1.Empty{})
			return err
		}),
	}
}

func sendCmd() *cobra.Command {
	var (
		conversation string
		mediaURL     string
		kind         string
	)
	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Send a message to the open conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				req := &tlkv1.SendRequest{
					ConversationID: conversation,
					Content:        strings.Join(args, " "),
					MediaURL:       mediaURL,
					Kind:           chat.Kind(kind),
				}
				if req.Kind == "" && mediaURL != "" {
					req.Kind = chat.KindFile
				}
				resp, err := c.Conversation.Send(ctx, req)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(resp)
				}
				fmt.Printf("Sent %s\n", resp.Message.ID)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id (default: the open conversation)")
	cmd.Flags().StringVar(&mediaURL, "media-url", "", "URL of uploaded media to attach")
	cmd.Flags().StringVar(&kind, "type", "", "message type: text, image, video, audio, file")
	return cmd
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				_, err := c.Conversation.MarkRead(ctx, &tlkv1.ConversationRequest{ConversationID: args[0]})
				return err
			})(cmd, args)
		},
	}
}

func searchCmd() *cobra.Command {
	var (
		conversation string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search archived messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Conversation.Search(ctx, &tlkv1.SearchRequest{
					Query:          strings.Join(args, " "),
					ConversationID: conversation,
					Limit:          limit,
				})
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(resp)
				}
				if len(resp.Results) == 0 {
					fmt.Println("No matches.")
					return nil
				}
				for _, r := range resp.Results {
					fmt.Printf("%s  %-20s %s\n", r.Message.CreatedAt.Local().Format("2006-01-02 15:04"), r.Message.Sender.DisplayName(), r.Snippet)
				}
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "restrict to one conversation")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of results")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [namespace]...",
		Short: "Stream daemon events (message., timeline., notify., conversation., session.)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stream, err := c.Conversation.WatchEvents(cmd.Context(), &tlkv1.WatchEventsRequest{Namespaces: args})
			if err != nil {
				return err
			}
			for {
				evt, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if jsonFlag {
					if err := outputJSON(evt); err != nil {
						return err
					}
					continue
				}
				ts := time.UnixMilli(evt.OccurredAtUnixMs).Format("15:04:05.000")
				fmt.Printf("%s %-24s %s\n", ts, evt.Kind, evt.Payload)
			}
		},
	}
}

func printTimeline(resp *tlkv1.TimelineResponse) error {
	if jsonFlag {
		return outputJSON(resp)
	}
	v := resp.Timeline
	if v.ConversationID == "" {
		fmt.Println("No conversation open.")
		return nil
	}
	if v.LoadFailed {
		fmt.Println("Failed to load messages.")
		return nil
	}
	for _, m := range v.Messages {
		state := ""
		if m.ID.IsPending() {
			state = " (sending)"
		}
		body := m.Content
		if a, ok := m.Attachment(); ok {
			body = strings.TrimSpace(body + " [" + string(a.Kind) + "] " + a.URL)
		}
		fmt.Printf("%s  %-20s %s%s\n", m.CreatedAt.Local().Format("15:04"), m.Sender.DisplayName(), body, state)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
