package rpc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sealedchat/internal/auth"
	"sealedchat/internal/domain"
)

// Server serves a domain.DirectoryStore over gRPC.
type Server struct {
	store domain.DirectoryStore
	auth  *auth.Authority
	log   *zap.Logger
}

// NewServer returns a Server over store. A nil authority leaves writes
// unauthenticated.
func NewServer(store domain.DirectoryStore, authority *auth.Authority, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: store, auth: authority, log: log}
}

var _ DirectoryServer = (*Server)(nil)

// Get returns the record stored for the requested peer.
func (s *Server) Get(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	peer := domain.PeerID(req.GetValue())
	if peer == "" {
		return nil, status.Error(codes.InvalidArgument, "empty peer")
	}
	f, ok, err := s.store.Get(ctx, peer)
	if err != nil {
		return nil, s.backendError(peer, err)
	}
	if !ok {
		return nil, status.Error(codes.NotFound, "no bundle")
	}
	out, err := structpb.NewStruct(f)
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "stored record: %v", err)
	}
	return out, nil
}

// Set replaces the record of the peer named in the request.
func (s *Server) Set(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	peer := domain.PeerID(req.GetFields()[keyPeer].GetStringValue())
	fields := req.GetFields()[keyFields].GetStructValue()
	if peer == "" || fields == nil {
		return nil, status.Error(codes.InvalidArgument, "peer and fields are required")
	}
	if err := s.authorize(ctx, peer); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, peer, fields.AsMap()); err != nil {
		return nil, s.backendError(peer, err)
	}
	s.log.Info("bundle stored", zap.String("peer", peer.String()))
	return &emptypb.Empty{}, nil
}

// Delete removes the requested peer's record.
func (s *Server) Delete(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	peer := domain.PeerID(req.GetValue())
	if peer == "" {
		return nil, status.Error(codes.InvalidArgument, "empty peer")
	}
	if err := s.authorize(ctx, peer); err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, peer); err != nil {
		return nil, s.backendError(peer, err)
	}
	s.log.Info("bundle deleted", zap.String("peer", peer.String()))
	return &emptypb.Empty{}, nil
}

func (s *Server) authorize(ctx context.Context, peer domain.PeerID) error {
	if s.auth == nil {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	tok, err := auth.BearerToken(md.Get("authorization")...)
	if err != nil {
		return status.Error(codes.Unauthenticated, "no auth")
	}
	if err := s.auth.Authorize(tok, peer); err != nil {
		s.log.Info("write refused", zap.String("peer", peer.String()), zap.Error(err))
		return status.Error(codes.PermissionDenied, "token does not cover this peer")
	}
	return nil
}

func (s *Server) backendError(peer domain.PeerID, err error) error {
	s.log.Error("directory backend", zap.String("peer", peer.String()), zap.Error(err))
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, "refused by backend")
	default:
		return status.Error(codes.Unavailable, "directory unavailable")
	}
}
