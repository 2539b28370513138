package server

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
)

func TestGRPCHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, hs := NewGRPCServer("secret", "cogstore")
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Health is reachable without a token.
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "cogstore"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}

	hs.Shutdown()
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "cogstore"})
	if err != nil {
		t.Fatalf("Check after shutdown: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.GetStatus())
	}
}

func TestGRPCReflectionRequiresToken(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, _ := NewGRPCServer("secret")
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := reflectionpb.NewServerReflectionClient(conn)

	listServices := func(ctx context.Context) error {
		stream, err := client.ServerReflectionInfo(ctx)
		if err != nil {
			return err
		}
		req := &reflectionpb.ServerReflectionRequest{
			MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{ListServices: ""},
		}
		if err := stream.Send(req); err != nil {
			// The server's status is reported by Recv.
			_, recvErr := stream.Recv()
			return recvErr
		}
		_, err = stream.Recv()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := listServices(ctx); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("reflection without token: code = %v, want Unauthenticated (err %v)", status.Code(err), err)
	}

	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer secret")
	if err := listServices(authed); err != nil {
		t.Fatalf("reflection with token: %v", err)
	}
}
