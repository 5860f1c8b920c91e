package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

const serviceName = "tradeingest.v1.IngestionService"

// IngestionServer is the gRPC contract. Requests and replies are google.protobuf.Struct
// documents carrying the same fields as the HTTP API.
type IngestionServer interface {
	SubmitBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBatchStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmDuplicate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCreditBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// IngestionServiceDesc registers IngestionServer with a grpc.Server.
var IngestionServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*IngestionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitBatch", IngestionServer.SubmitBatch),
		unary("GetBatchStatus", IngestionServer.GetBatchStatus),
		unary("ConfirmDuplicate", IngestionServer.ConfirmDuplicate),
		unary("CancelBatch", IngestionServer.CancelBatch),
		unary("GetCreditBalance", IngestionServer.GetCreditBalance),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradeingest/v1/ingestion.proto",
}

func RegisterIngestionServer(s grpc.ServiceRegistrar, srv IngestionServer) {
	s.RegisterService(&IngestionServiceDesc, srv)
}

type method func(IngestionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call method) grpc.MethodDesc {
	full := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(IngestionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(IngestionServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// AuthInterceptor verifies the bearer token on ingestion calls. Health and reflection
// services pass through.
func AuthInterceptor(auth *Authenticator, logger *slog.Logger) grpc.UnaryServerInterceptor {
	prefix := "/" + serviceName + "/"
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		start := time.Now()
		reqID := uuid.NewString()
		md, _ := metadata.FromIncomingContext(ctx)
		if v := md.Get("x-request-id"); len(v) > 0 && v[0] != "" {
			reqID = v[0]
		}
		var token string
		if v := md.Get("authorization"); len(v) > 0 {
			token = bearer(v[0])
		}
		log := logger.With("req_id", reqID, "method", info.FullMethod)
		userID, err := auth.Verify(token)
		if err != nil {
			log.Warn("grpc.auth.rejected", "error", err)
			return nil, common.GRPCStatus(err)
		}
		ctx = common.WithRequestID(ctx, reqID)
		ctx = common.WithUserID(ctx, userID)
		ctx = common.WithLogger(ctx, log.With("user_id", userID))

		resp, err := handler(ctx, req)
		log.Info("grpc.request", "user_id", userID, "ok", err == nil, "elapsed_ms", time.Since(start).Milliseconds())
		return resp, err
	}
}

// IngestionService adapts the coordinator to IngestionServer.
type IngestionService struct {
	ingest Ingestion
	logger *slog.Logger
}

func NewIngestionService(ing Ingestion, logger *slog.Logger) *IngestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{ingest: ing, logger: logger}
}

// SubmitBatch expects {"images": [{"name": "...", "data": "<base64>"}], "force_cheap": bool,
// "prefer_fallback": bool} and returns {"batch_id": "..."}.
func (s *IngestionService) SubmitBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	list := in.GetFields()["images"].GetListValue().GetValues()
	uploads := make([]pipeline.Upload, 0, len(list))
	for i, v := range list {
		img := v.GetStructValue()
		data, err := base64.StdEncoding.DecodeString(stringField(img, "data"))
		if err != nil {
			return nil, common.InvalidArgumentErrorf("images[%d].data must be base64: %v", i, err)
		}
		uploads = append(uploads, pipeline.Upload{Name: stringField(img, "name"), Data: data})
	}
	opts := pipeline.Options{
		ForceCheap:     boolField(in, "force_cheap"),
		PreferFallback: boolField(in, "prefer_fallback"),
	}
	id, err := s.ingest.Submit(ctx, userID, uploads, opts)
	if err != nil {
		common.LoggerFromContext(ctx).Warn("grpc.submit.failed", "error", err)
		return nil, common.GRPCStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{"batch_id": id.String()})
}

func (s *IngestionService) GetBatchStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, batchID, err := s.target(ctx, in)
	if err != nil {
		return nil, err
	}
	st, err := s.ingest.GetBatchStatus(ctx, userID, batchID)
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	return toStruct(sanitizeStatus(st))
}

// ConfirmDuplicate expects {"batch_id", "candidate_id", "proceed"}.
func (s *IngestionService) ConfirmDuplicate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, batchID, err := s.target(ctx, in)
	if err != nil {
		return nil, err
	}
	candidateID, err := uuid.Parse(stringField(in, "candidate_id"))
	if err != nil {
		return nil, common.InvalidArgumentError("candidate_id must be a UUID")
	}
	proceed, ok := in.GetFields()["proceed"]
	if !ok {
		return nil, common.InvalidArgumentError("proceed is required")
	}
	st, err := s.ingest.ConfirmDuplicate(ctx, userID, batchID, candidateID, proceed.GetBoolValue())
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	return toStruct(sanitizeStatus(st))
}

func (s *IngestionService) CancelBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, batchID, err := s.target(ctx, in)
	if err != nil {
		return nil, err
	}
	st, err := s.ingest.CancelBatch(ctx, userID, batchID)
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	return toStruct(sanitizeStatus(st))
}

func (s *IngestionService) GetCreditBalance(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	bal, err := s.ingest.GetCreditBalance(ctx, userID)
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	return toStruct(viewBalance(bal))
}

func (s *IngestionService) target(ctx context.Context, in *structpb.Struct) (string, uuid.UUID, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return "", uuid.Nil, common.GRPCStatus(err)
	}
	id, err := uuid.Parse(stringField(in, "batch_id"))
	if err != nil {
		return "", uuid.Nil, common.InvalidArgumentError("batch_id must be a UUID")
	}
	return userID, id, nil
}

func stringField(s *structpb.Struct, key string) string {
	return strings.TrimSpace(s.GetFields()[key].GetStringValue())
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// toStruct goes through JSON so the gRPC documents match the HTTP bodies field for field.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, common.InternalError(fmt.Sprintf("encode reply: %v", err))
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, common.InternalError(fmt.Sprintf("encode reply: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, common.InternalError(fmt.Sprintf("encode reply: %v", err))
	}
	return out, nil
}
