package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sealedchat/internal/domain"
)

// Store is a domain.DirectoryStore backed by the gRPC directory service.
type Store struct {
	conn  grpc.ClientConnInterface
	token string
}

// NewStore returns a Store using conn. token may be empty when the server
// does not check writes.
func NewStore(conn grpc.ClientConnInterface, token string) *Store {
	return &Store{conn: conn, token: token}
}

var _ domain.DirectoryStore = (*Store)(nil)

func (s *Store) Get(ctx context.Context, peer domain.PeerID) (domain.Fields, bool, error) {
	out := new(structpb.Struct)
	err := s.conn.Invoke(ctx, methodGet, wrapperspb.String(string(peer)), out)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapError(ctx, "get", peer, err)
	}
	return out.AsMap(), true, nil
}

func (s *Store) Set(ctx context.Context, peer domain.PeerID, fields domain.Fields) error {
	body, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedBundle, err)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		keyPeer:   structpb.NewStringValue(string(peer)),
		keyFields: structpb.NewStructValue(body),
	}}
	if err := s.conn.Invoke(s.withToken(ctx), methodSet, req, new(emptypb.Empty)); err != nil {
		return mapError(ctx, "set", peer, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, peer domain.PeerID) error {
	if err := s.conn.Invoke(s.withToken(ctx), methodDelete, wrapperspb.String(string(peer)), new(emptypb.Empty)); err != nil {
		return mapError(ctx, "delete", peer, err)
	}
	return nil
}

func (s *Store) withToken(ctx context.Context) context.Context {
	if s.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+s.token)
}

func mapError(ctx context.Context, op string, peer domain.PeerID, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: directory %s %s: %v", domain.ErrUnauthorized, op, peer, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: directory %s %s: %v", domain.ErrDirectoryUnavailable, op, peer, err)
	default:
		return fmt.Errorf("directory %s %s: %w", op, peer, err)
	}
}
