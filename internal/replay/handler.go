package replay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"spectator-recorder/internal/platform/metrics"
	"spectator-recorder/internal/recording"
	"spectator-recorder/internal/spectator"
)

const maxPayloadBytes = 16 << 20

// Handler exposes the spectator consumer endpoints and the admin endpoints
// that feed them.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Mount registers every route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route(spectator.ConsumerPath, func(r chi.Router) {
		r.Get("/version", h.Version)
		r.Get("/getGameMetaData/{platform}/{session}/token", h.Metadata)
		r.Get("/getGameMetaData/{platform}/{session}/{param}/token", h.Metadata)
		r.Get("/getLastChunkInfo/{platform}/{session}/{param}/token", h.LatestChunkInfo)
		r.Get("/getGameDataChunk/{platform}/{session}/{id}/token", h.payload(recording.KindChunk))
		r.Get("/getKeyFrame/{platform}/{session}/{id}/token", h.payload(recording.KindKeyFrame))
	})
	r.Route("/sessions/{platform}/{session}", func(r chi.Router) {
		r.Post("/chunks/{id}", h.register(recording.KindChunk))
		r.Post("/keyframes/{id}", h.register(recording.KindKeyFrame))
		r.Post("/end", h.EndSession)
	})
}

// Version handles GET .../version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, h.svc.Version())
}

// Metadata handles GET .../getGameMetaData/{platform}/{session}[/{param}]/token.
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	md, ok := h.svc.Metadata(key)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, md)
}

// LatestChunkInfo handles GET .../getLastChunkInfo/{platform}/{session}/{param}/token.
func (h *Handler) LatestChunkInfo(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	info, ok := h.svc.LatestChunkInfo(key)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, info)
}

func (h *Handler) payload(kind recording.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := sessionKey(r)
		id, idOK := payloadID(r)
		if !ok || !idOK {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, ok := h.svc.Payload(key, kind, id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func (h *Handler) register(kind recording.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := sessionKey(r)
		id, idOK := payloadID(r)
		if !ok || !idOK {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			h.log.Debug("invalid payload body", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := h.svc.Register(key, kind, id, data); err != nil {
			switch {
			case errors.Is(err, ErrSessionEnded):
				h.log.Info("payload rejected, session ended",
					slog.String("platform_id", key.PlatformID),
					slog.String("session_id", key.SessionID),
					slog.String("kind", string(kind)),
					slog.Int("id", int(id)))
				w.WriteHeader(http.StatusConflict)
			case errors.Is(err, ErrInvalidID):
				w.WriteHeader(http.StatusBadRequest)
			default:
				h.log.Error("register payload failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusInternalServerError)
			}
			return
		}

		h.log.Debug("payload registered",
			slog.String("session", key.String()),
			slog.String("kind", string(kind)),
			slog.Int("id", int(id)),
			slog.Int("bytes", len(data)))
		w.WriteHeader(http.StatusCreated)
		if h.metrics != nil {
			h.metrics.IncItemsRegistered(string(kind))
		}
	}
}

// EndSession handles POST /sessions/{platform}/{session}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.EndSession(key); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.Error("end session failed", slog.String("session", key.String()), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h.log.Info("session ended", slog.String("session", key.String()))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func sessionKey(r *http.Request) (SessionKey, bool) {
	key := SessionKey{
		PlatformID: chi.URLParam(r, "platform"),
		SessionID:  chi.URLParam(r, "session"),
	}
	return key, key.PlatformID != "" && key.SessionID != ""
}

func payloadID(r *http.Request) (uint32, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
