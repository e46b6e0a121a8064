package devserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/pkg/models"
)

// Handler exposes the Service over HTTP.
type Handler struct {
	svc       *Service
	log       zerolog.Logger
	adminUser string
	adminPass string
}

// NewHandler builds the HTTP layer. adminUser/adminPass guard the
// moderator routes with basic auth.
func NewHandler(svc *Service, log zerolog.Logger, adminUser, adminPass string) *Handler {
	return &Handler{svc: svc, log: log, adminUser: adminUser, adminPass: adminPass}
}

// Router assembles the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.countRequests)

	r.Route("/api", func(r chi.Router) {
		r.Post("/citizen/join", h.join)
		r.Get("/citizen/position", h.position)

		r.Get("/sign/create_session", h.createSignSession)
		r.Get("/sign/init", h.signInit)
		r.Get("/sign/status", h.signStatus)
		r.Post("/sign/callback", h.signCallback)
		r.Get("/qr", h.qr)

		r.Route("/citizen-moderator", func(r chi.Router) {
			r.Use(h.basicAuth)
			r.Get("/queues", h.listQueues)
			r.Get("/queue/{id}", h.queueByID)
			r.Put("/queue/{id}/status", h.setStatus)
			r.Put("/queue/{id}/meeting-url", h.setMeetingURL)
			r.Put("/queues/bulk-status", h.bulkStatus)
			r.Get("/stats", h.stats)
			r.Delete("/queue/{id}", h.deleteQueue)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (h *Handler) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		httpRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

func (h *Handler) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.adminUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.adminPass)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="moderator"`)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	resp, err := h.svc.Join(r.Context(), sessionID)
	if errors.Is(err, ErrAlreadyJoined) {
		writeError(w, http.StatusConflict, "session already registered in queue")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("join failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) position(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	resp, err := h.svc.Position(r.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Msg("position lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createSignSession(w http.ResponseWriter, r *http.Request) {
	uuid := r.URL.Query().Get("uuid")
	if uuid == "" {
		writeError(w, http.StatusBadRequest, "uuid is required")
		return
	}
	sess := h.svc.CreateSign(uuid, r.URL.Query().Get("phoneNumber"))
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) signInit(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.SignInit(r.URL.Query().Get("sessionId"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "sign session not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) signStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.SignStatus(r.URL.Query().Get("sessionId"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "sign session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) signCallback(w http.ResponseWriter, r *http.Request) {
	var payload models.SignCallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	resp, err := h.svc.ApplyCallback(r.Context(), payload)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "sign session not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("sign callback failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// qr serves a deterministic PNG derived from the sign session id. Real
// deployments render a scannable code; for development any stable image
// the client can download and release is enough.
func (h *Handler) qr(w http.ResponseWriter, r *http.Request) {
	uuid := r.URL.Query().Get("sessionId")
	if uuid == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if _, err := h.svc.SignStatus(uuid); errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "sign session not found")
		return
	}

	const cells, scale = 16, 12
	sum := sha256.Sum256([]byte(uuid))
	img := image.NewGray(image.Rect(0, 0, cells*scale, cells*scale))
	for y := 0; y < cells; y++ {
		for x := 0; x < cells; x++ {
			bit := (y*cells + x) % 256
			shade := color.Gray{Y: 255}
			if sum[bit/8]&(1<<(bit%8)) != 0 {
				shade = color.Gray{Y: 0}
			}
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetGray(x*scale+dx, y*scale+dy, shade)
				}
			}
		}
	}

	w.Header().Set("Content-Type", "image/png")
	png.Encode(w, img)
}

func (h *Handler) listQueues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	sortField := q.Get("sort")
	if sortField == "" {
		sortField = "sequenceNumber"
	}
	dir := models.SortDesc
	if q.Get("direction") == string(models.SortAsc) {
		dir = models.SortAsc
	}

	resp, err := h.svc.List(r.Context(), q.Get("status"), page, size, sortField, dir)
	if err != nil {
		h.log.Error().Err(err).Msg("listing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) queueByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "queue entry not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	status := models.QueueStatus(r.URL.Query().Get("status"))
	if status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	resp, err := h.svc.SetStatus(r.Context(), id, status)
	h.writeMutation(w, resp, err)
}

func (h *Handler) setMeetingURL(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	meetingURL := r.URL.Query().Get("meetingUrl")
	if meetingURL == "" {
		writeError(w, http.StatusBadRequest, "meetingUrl is required")
		return
	}
	resp, err := h.svc.SetMeetingURL(r.Context(), id, meetingURL)
	h.writeMutation(w, resp, err)
}

func (h *Handler) bulkStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromSeq, err1 := strconv.ParseInt(q.Get("fromSeq"), 10, 64)
	toSeq, err2 := strconv.ParseInt(q.Get("toSeq"), 10, 64)
	if err1 != nil || err2 != nil || fromSeq <= 0 || toSeq <= 0 || fromSeq > toSeq {
		writeError(w, http.StatusBadRequest, "invalid sequence range")
		return
	}
	resp, err := h.svc.BulkSetStatus(r.Context(), fromSeq, toSeq, models.QueueStatus(q.Get("status")))
	h.writeMutation(w, resp, err)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) deleteQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.Delete(r.Context(), id)
	h.writeMutation(w, resp, err)
}

func (h *Handler) writeMutation(w http.ResponseWriter, resp any, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "queue entry not found")
	case errors.Is(err, ErrBadStatus):
		writeError(w, http.StatusBadRequest, "unknown status")
	case err != nil:
		h.log.Error().Err(err).Msg("mutation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}
