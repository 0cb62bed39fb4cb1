package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sealedchat/internal/auth"
	"sealedchat/internal/domain"
)

const maxBody = 64 << 10

// Handler serves a domain.DirectoryStore over HTTP.
type Handler struct {
	store domain.DirectoryStore
	auth  *auth.Authority
	log   *zap.Logger
	mux   *http.ServeMux
}

// NewHandler returns a Handler over store. A nil authority leaves writes
// unauthenticated.
func NewHandler(store domain.DirectoryStore, authority *auth.Authority, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{store: store, auth: authority, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /bundles/{peer}", h.get)
	h.mux.HandleFunc("PUT /bundles/{peer}", h.authorized(h.put))
	h.mux.HandleFunc("DELETE /bundles/{peer}", h.authorized(h.delete))
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	peer := domain.PeerID(r.PathValue("peer"))
	f, ok, err := h.store.Get(r.Context(), peer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(f); err != nil {
		h.log.Warn("write response", zap.String("peer", peer.String()), zap.Error(err))
	}
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	peer := domain.PeerID(r.PathValue("peer"))
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.UseNumber()
	var f domain.Fields
	if err := dec.Decode(&f); err != nil || f == nil {
		http.Error(w, "body must be a JSON object", http.StatusBadRequest)
		return
	}
	if err := h.store.Set(r.Context(), peer, f); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("bundle stored", zap.String("peer", peer.String()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	peer := domain.PeerID(r.PathValue("peer"))
	if err := h.store.Delete(r.Context(), peer); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("bundle deleted", zap.String("peer", peer.String()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.auth != nil {
			tok, err := auth.BearerToken(r.Header.Values("Authorization")...)
			if err == nil {
				err = h.auth.Authorize(tok, domain.PeerID(r.PathValue("peer")))
			}
			if err != nil {
				h.log.Info("write refused", zap.String("peer", r.PathValue("peer")), zap.Error(err))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("directory backend",
		zap.String("method", r.Method),
		zap.String("peer", r.PathValue("peer")),
		zap.Error(err))
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
	}
}

// AccessLog logs method, path, status, size and duration of every request.
func AccessLog(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("dur", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
