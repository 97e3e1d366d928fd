package client

import (
	"fmt"

	tlkv1 "github.com/matheus3301/tlk/internal/api/tlkv1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps gRPC connections to the daemon.
type Client struct {
	conn         *grpc.ClientConn
	Session      *tlkv1.SessionServiceClient
	Conversation *tlkv1.ConversationServiceClient
	Call         *tlkv1.CallServiceClient
}

// New dials the daemon's Unix domain socket and returns typed service clients.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(tlkv1.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:         conn,
		Session:      tlkv1.NewSessionServiceClient(conn),
		Conversation: tlkv1.NewConversationServiceClient(conn),
		Call:         tlkv1.NewCallServiceClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
