package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"sealedchat/internal/domain"
)

// Store is a domain.DirectoryStore talking to a directory service over HTTP.
type Store struct {
	Base  string
	Token string
	HTTP  *http.Client
}

// NewStore returns a Store for the service at base. token may be empty when
// the service does not check writes.
func NewStore(base, token string) *Store {
	return &Store{Base: strings.TrimRight(base, "/"), Token: token, HTTP: http.DefaultClient}
}

var _ domain.DirectoryStore = (*Store)(nil)

func (s *Store) Get(ctx context.Context, peer domain.PeerID) (domain.Fields, bool, error) {
	resp, err := s.do(ctx, http.MethodGet, peer, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode/100 != 2:
		return nil, false, statusError(http.MethodGet, peer, resp)
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBody))
	dec.UseNumber()
	var f domain.Fields
	if err := dec.Decode(&f); err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrMalformedBundle, err)
	}
	return f, true, nil
}

func (s *Store) Set(ctx context.Context, peer domain.PeerID, fields domain.Fields) error {
	resp, err := s.do(ctx, http.MethodPut, peer, fields)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(http.MethodPut, peer, resp)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, peer domain.PeerID) error {
	resp, err := s.do(ctx, http.MethodDelete, peer, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return statusError(http.MethodDelete, peer, resp)
	}
	return nil
}

func (s *Store) do(ctx context.Context, method string, peer domain.PeerID, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return nil, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, s.Base+"/bundles/"+url.PathEscape(string(peer)), body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		// Cancellation by the caller is not a directory outage.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrDirectoryUnavailable, method, peer, err)
	}
	return resp, nil
}

func statusError(method string, peer domain.PeerID, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := fmt.Sprintf("directory %s %s: %s %s", method, peer, resp.Status, strings.TrimSpace(string(msg)))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrDirectoryUnavailable, detail)
	default:
		return errors.New(detail)
	}
}
