package grpc

import (
	context "context"

	"gitlab.com/linkinlog/rxprefs/store"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The Preferences service uses well-known protobuf types for its messages:
//
//	Get    {key, kind?}             -> {key, kind, value}
//	Put    {key, kind, value}       -> Empty
//	Delete {key}                    -> Empty
//	Watch  {key, kind, default?}    -> stream {key, kind, value}
const ServiceName = "rxprefs.Preferences"

type PreferencesServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Put(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Delete(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

func RegisterPreferencesServer(s grpc.ServiceRegistrar, srv PreferencesServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PreferencesServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Get",
			Handler:    unaryHandler("Get", PreferencesServer.Get),
		},
		{
			MethodName: "Put",
			Handler:    unaryHandler("Put", PreferencesServer.Put),
		},
		{
			MethodName: "Delete",
			Handler:    unaryHandler("Delete", PreferencesServer.Delete),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "rxprefs/preferences.proto",
}

func unaryHandler[R any](method string, call func(PreferencesServer, context.Context, *structpb.Struct) (R, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PreferencesServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PreferencesServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PreferencesServer).Watch(in, stream)
}

// Client calls a remote Preferences service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Get(ctx context.Context, key string) (store.Value, error) {
	req, err := structpb.NewStruct(map[string]any{"key": key})
	if err != nil {
		return store.Value{}, err
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Get", req, out); err != nil {
		return store.Value{}, err
	}

	return decodeEntry(out)
}

func (c *Client) Put(ctx context.Context, key string, v store.Value) error {
	req, err := encodeEntry(key, v)
	if err != nil {
		return err
	}

	return c.cc.Invoke(ctx, "/"+ServiceName+"/Put", req, new(emptypb.Empty))
}

func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := structpb.NewStruct(map[string]any{"key": key})
	if err != nil {
		return err
	}

	return c.cc.Invoke(ctx, "/"+ServiceName+"/Delete", req, new(emptypb.Empty))
}

// Watch streams the key with def as the value while it is absent. The
// channels close when ctx is done or the server ends the stream.
func (c *Client) Watch(ctx context.Context, key string, def store.Value) (<-chan store.Value, <-chan error) {
	out := make(chan store.Value)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		req, err := structpb.NewStruct(map[string]any{
			"key":     key,
			"kind":    def.Kind().String(),
			"default": jsonValue(def),
		})
		if err != nil {
			errs <- err
			return
		}

		stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/Watch")
		if err != nil {
			errs <- err
			return
		}
		if err := stream.SendMsg(req); err != nil {
			errs <- err
			return
		}
		if err := stream.CloseSend(); err != nil {
			errs <- err
			return
		}

		for {
			msg := new(structpb.Struct)
			if err := stream.RecvMsg(msg); err != nil {
				if ctx.Err() == nil && !isEOF(err) {
					errs <- err
				}
				return
			}

			v, err := decodeEntry(msg)
			if err != nil {
				errs <- err
				return
			}

			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}
