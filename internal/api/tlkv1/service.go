package tlkv1

import (
	"context"

	"google.golang.org/grpc"
)

const (
	SessionServiceName      = "tlk.v1.SessionService"
	ConversationServiceName = "tlk.v1.ConversationService"
	CallServiceName         = "tlk.v1.CallService"
)

// unary builds the method descriptor of a unary RPC from a server method
// expression.
func unary[S, Req, Resp any](service, method string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serverStream builds the descriptor of a server-streaming RPC.
func serverStream[S, Req, Resp any](method string, fn func(S, *Req, grpc.ServerStreamingServer[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return fn(srv.(S), in, &grpc.GenericServerStream[Req, Resp]{ServerStream: stream})
		},
	}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func openStream[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, method string, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[Resp], error) {
	stream, err := cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Resp]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// SessionServiceServer reports daemon state.
type SessionServiceServer interface {
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
}

var SessionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServiceServer.GetStatus),
	},
	Metadata: "tlk/v1/session.json",
}

func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionService_ServiceDesc, srv)
}

type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) GetStatus(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "/"+SessionServiceName+"/GetStatus", in, opts)
}

// ConversationServiceServer drives the conversation list and the open
// timeline.
type ConversationServiceServer interface {
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	Reload(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	Start(context.Context, *StartConversationRequest) (*ConversationResponse, error)
	Open(context.Context, *ConversationRequest) (*TimelineResponse, error)
	Close(context.Context, *Empty) (*Empty, error)
	GetTimeline(context.Context, *Empty) (*TimelineResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	MarkRead(context.Context, *ConversationRequest) (*Empty, error)
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[EventEnvelope]) error
}

var ConversationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ConversationServiceName,
	HandlerType: (*ConversationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ConversationServiceName, "ListConversations", ConversationServiceServer.ListConversations),
		unary(ConversationServiceName, "Reload", ConversationServiceServer.Reload),
		unary(ConversationServiceName, "Start", ConversationServiceServer.Start),
		unary(ConversationServiceName, "Open", ConversationServiceServer.Open),
		unary(ConversationServiceName, "Close", ConversationServiceServer.Close),
		unary(ConversationServiceName, "GetTimeline", ConversationServiceServer.GetTimeline),
		unary(ConversationServiceName, "Send", ConversationServiceServer.Send),
		unary(ConversationServiceName, "MarkRead", ConversationServiceServer.MarkRead),
		unary(ConversationServiceName, "Search", ConversationServiceServer.Search),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchEvents", ConversationServiceServer.WatchEvents),
	},
	Metadata: "tlk/v1/conversation.json",
}

func RegisterConversationServiceServer(s grpc.ServiceRegistrar, srv ConversationServiceServer) {
	s.RegisterService(&ConversationService_ServiceDesc, srv)
}

type ConversationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewConversationServiceClient(cc grpc.ClientConnInterface) *ConversationServiceClient {
	return &ConversationServiceClient{cc: cc}
}

func conversationMethod(name string) string { return "/" + ConversationServiceName + "/" + name }

func (c *ConversationServiceClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, conversationMethod("ListConversations"), in, opts)
}

func (c *ConversationServiceClient) Reload(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, conversationMethod("Reload"), in, opts)
}

func (c *ConversationServiceClient) Start(ctx context.Context, in *StartConversationRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, conversationMethod("Start"), in, opts)
}

func (c *ConversationServiceClient) Open(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*TimelineResponse, error) {
	return invoke[TimelineResponse](ctx, c.cc, conversationMethod("Open"), in, opts)
}

func (c *ConversationServiceClient) Close(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, conversationMethod("Close"), in, opts)
}

func (c *ConversationServiceClient) GetTimeline(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*TimelineResponse, error) {
	return invoke[TimelineResponse](ctx, c.cc, conversationMethod("GetTimeline"), in, opts)
}

func (c *ConversationServiceClient) Send(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c.cc, conversationMethod("Send"), in, opts)
}

func (c *ConversationServiceClient) MarkRead(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, conversationMethod("MarkRead"), in, opts)
}

func (c *ConversationServiceClient) Search(ctx context.Context, in *SearchRequest, opts ...grpc.CallOption) (*SearchResponse, error) {
	return invoke[SearchResponse](ctx, c.cc, conversationMethod("Search"), in, opts)
}

func (c *ConversationServiceClient) WatchEvents(ctx context.Context, in *WatchEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[EventEnvelope], error) {
	return openStream[WatchEventsRequest, EventEnvelope](ctx, c.cc, &ConversationService_ServiceDesc.Streams[0], conversationMethod("WatchEvents"), in, opts)
}

// CallServiceServer drives the single call.
type CallServiceServer interface {
	GetCall(context.Context, *Empty) (*CallResponse, error)
	StartCall(context.Context, *StartCallRequest) (*CallResponse, error)
	AcceptCall(context.Context, *Empty) (*CallResponse, error)
	RejectCall(context.Context, *Empty) (*CallResponse, error)
	EndCall(context.Context, *Empty) (*CallResponse, error)
	ToggleMic(context.Context, *Empty) (*ToggleResponse, error)
	ToggleCam(context.Context, *Empty) (*ToggleResponse, error)
	ListCalls(context.Context, *ListCallsRequest) (*ListCallsResponse, error)
	WatchCall(*Empty, grpc.ServerStreamingServer[CallResponse]) error
}

var CallService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: CallServiceName,
	HandlerType: (*CallServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(CallServiceName, "GetCall", CallServiceServer.GetCall),
		unary(CallServiceName, "StartCall", CallServiceServer.StartCall),
		unary(CallServiceName, "AcceptCall", CallServiceServer.AcceptCall),
		unary(CallServiceName, "RejectCall", CallServiceServer.RejectCall),
		unary(CallServiceName, "EndCall", CallServiceServer.EndCall),
		unary(CallServiceName, "ToggleMic", CallServiceServer.ToggleMic),
		unary(CallServiceName, "ToggleCam", CallServiceServer.ToggleCam),
		unary(CallServiceName, "ListCalls", CallServiceServer.ListCalls),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchCall", CallServiceServer.WatchCall),
	},
	Metadata: "tlk/v1/call.json",
}

func RegisterCallServiceServer(s grpc.ServiceRegistrar, srv CallServiceServer) {
	s.RegisterService(&CallService_ServiceDesc, srv)
}

type CallServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCallServiceClient(cc grpc.ClientConnInterface) *CallServiceClient {
	return &CallServiceClient{cc: cc}
}

func callMethod(name string) string { return "/" + CallServiceName + "/" + name }

func (c *CallServiceClient) GetCall(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CallResponse, error) {
	return invoke[CallResponse](ctx, c.cc, callMethod("GetCall"), in, opts)
}

func (c *CallServiceClient) StartCall(ctx context.Context, in *StartCallRequest, opts ...grpc.CallOption) (*CallResponse, error) {
	return invoke[CallResponse](ctx, c.cc, callMethod("StartCall"), in, opts)
}

func (c *CallServiceClient) AcceptCall(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CallResponse, error) {
	return invoke[CallResponse](ctx, c.cc, callMethod("AcceptCall"), in, opts)
}

func (c *CallServiceClient) RejectCall(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CallResponse, error) {
	return invoke[CallResponse](ctx, c.cc, callMethod("RejectCall"), in, opts)
}

func (c *CallServiceClient) EndCall(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CallResponse, error) {
	return invoke[CallResponse](ctx, c.cc, callMethod("EndCall"), in, opts)
}

func (c *CallServiceClient) ToggleMic(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ToggleResponse, error) {
	return invoke[ToggleResponse](ctx, c.cc, callMethod("ToggleMic"), in, opts)
}

func (c *CallServiceClient) ToggleCam(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ToggleResponse, error) {
	return invoke[ToggleResponse](ctx, c.cc, callMethod("ToggleCam"), in, opts)
}

func (c *CallServiceClient) ListCalls(ctx context.Context, in *ListCallsRequest, opts ...grpc.CallOption) (*ListCallsResponse, error) {
	return invoke[ListCallsResponse](ctx, c.cc, callMethod("ListCalls"), in, opts)
}

func (c *CallServiceClient) WatchCall(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[CallResponse], error) {
	return openStream[Empty, CallResponse](ctx, c.cc, &CallService_ServiceDesc.Streams[0], callMethod("WatchCall"), in, opts)
}
