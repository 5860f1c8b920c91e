package server

import (
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
)

func newGRPCClient(t *testing.T, ing Ingestion) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(NewAuthenticator(testSecret), quietLogger())))
	RegisterIngestionServer(srv, NewIngestionService(ing, quietLogger()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func call(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+serviceName+"/"+method, req, out)
	return out, err
}

func authed(t *testing.T, user string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token(t, testSecret, user, time.Hour))
}

func TestGRPCRequiresToken(t *testing.T) {
	conn := newGRPCClient(t, newFakeIngestion())

	_, err := call(context.Background(), conn, "GetCreditBalance", nil)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}

	// health stays open
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health = %v, %v", resp, err)
	}
}

func TestGRPCSubmitAndStatus(t *testing.T) {
	ing := newFakeIngestion()
	conn := newGRPCClient(t, ing)
	ctx := authed(t, "u1")

	out, err := call(ctx, conn, "SubmitBatch", map[string]interface{}{
		"images": []interface{}{
			map[string]interface{}{"name": "a.png", "data": base64.StdEncoding.EncodeToString([]byte("png-a"))},
		},
		"prefer_fallback": true,
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if got := out.GetFields()["batch_id"].GetStringValue(); got != ing.batchID.String() {
		t.Fatalf("batch_id = %q", got)
	}
	if len(ing.uploads) != 1 || string(ing.uploads[0].Data) != "png-a" || !ing.opts.PreferFallback {
		t.Fatalf("submit got %+v %+v", ing.uploads, ing.opts)
	}

	out, err = call(ctx, conn, "GetBatchStatus", map[string]interface{}{"batch_id": ing.batchID.String()})
	if err != nil {
		t.Fatalf("GetBatchStatus: %v", err)
	}
	if got := out.GetFields()["state"].GetStringValue(); got != "AWAITING_USER_CONFIRMATION" {
		t.Errorf("state = %q", got)
	}
	if _, ok := out.GetFields()["duplicate_warnings"]; !ok {
		t.Error("reply has no duplicate_warnings")
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	ing := newFakeIngestion()
	conn := newGRPCClient(t, ing)
	ctx := authed(t, "u1")

	_, err := call(ctx, conn, "SubmitBatch", map[string]interface{}{
		"images": []interface{}{map[string]interface{}{"data": "%%%"}},
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad base64: code = %v", status.Code(err))
	}

	_, err = call(ctx, conn, "GetBatchStatus", map[string]interface{}{"batch_id": uuid.NewString()})
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown batch: code = %v", status.Code(err))
	}

	_, err = call(ctx, conn, "ConfirmDuplicate", map[string]interface{}{
		"batch_id": ing.batchID.String(), "candidate_id": uuid.NewString(),
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("missing proceed: code = %v", status.Code(err))
	}

	ing.fail(common.ErrInsufficientCredit)
	_, err = call(ctx, conn, "GetCreditBalance", nil)
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("insufficient credit: code = %v", status.Code(err))
	}
}

func TestGRPCConfirmAndCancel(t *testing.T) {
	ing := newFakeIngestion()
	conn := newGRPCClient(t, ing)
	ctx := authed(t, "u9")
	cand := uuid.New()

	out, err := call(ctx, conn, "ConfirmDuplicate", map[string]interface{}{
		"batch_id": ing.batchID.String(), "candidate_id": cand.String(), "proceed": true,
	})
	if err != nil {
		t.Fatalf("ConfirmDuplicate: %v", err)
	}
	if ing.candidate != cand || !ing.proceed || ing.userID != "u9" {
		t.Errorf("confirm got %s %v %q", ing.candidate, ing.proceed, ing.userID)
	}
	if got := out.GetFields()["outcome"].GetStringValue(); got != "COMMITTED" {
		t.Errorf("outcome = %q", got)
	}

	out, err = call(ctx, conn, "CancelBatch", map[string]interface{}{"batch_id": ing.batchID.String()})
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if got := out.GetFields()["cause"].GetStringValue(); got != "CANCELLED" {
		t.Errorf("cause = %q", got)
	}

	out, err = call(ctx, conn, "GetCreditBalance", nil)
	if err != nil {
		t.Fatalf("GetCreditBalance: %v", err)
	}
	if got := out.GetFields()["available"].GetNumberValue(); got != 3 {
		t.Errorf("available = %v", got)
	}
}
