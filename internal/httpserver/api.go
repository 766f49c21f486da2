package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/store"
)

const maxAPIBodyBytes = 64 * 1024

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type registerUserRequest struct {
	UserID       string          `json:"userId" validate:"required,max=50"`
	ConnectionID string          `json:"connectionId" validate:"required,max=128"`
	Type         domain.UserType `json:"type"`
	GroupID      string          `json:"groupId" validate:"max=100"`
}

type setOnlineRequest struct {
	ConnectionID string `json:"connectionId" validate:"required,max=128"`
}

type startSessionRequest struct {
	UserID string `json:"userId" validate:"required,max=50"`
}

type createConnectionRequest struct {
	ConnectionID string                `json:"connectionId" validate:"required,max=128"`
	TargetUserID string                `json:"targetUserId" validate:"max=50"`
	Type         domain.ConnectionType `json:"type"`
}

type startRecordingRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Quality   string `json:"quality" validate:"omitempty,max=16"`
}

type api struct {
	svc *coordinator.Service
	log *slog.Logger
}

// NewAPI returns the REST surface over svc mounted under /api. A positive
// requestsPerMinute limits each client IP.
func NewAPI(svc *coordinator.Service, logger *slog.Logger, requestsPerMinute int) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{svc: svc, log: logger}

	r := chi.NewRouter()
	if requestsPerMinute > 0 {
		r.Use(httprate.Limit(requestsPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				WriteJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited"})
			}),
		))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed"})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/", a.registerUser)
		r.Get("/online", a.onlineUsers)
		r.Get("/{userId}", a.getUser)
		r.Put("/{userId}/online", a.setOnline)
		r.Put("/{userId}/offline", a.setOffline)
	})
	r.Route("/api/streaming", func(r chi.Router) {
		r.Post("/sessions", a.startSession)
		r.Get("/sessions/active", a.activeSessions)
		r.Get("/sessions/{sessionId}", a.getSession)
		r.Put("/sessions/{sessionId}/start-sharing", a.startSharing)
		r.Put("/sessions/{sessionId}/stop-sharing", a.stopSharing)
		r.Delete("/sessions/{sessionId}", a.endSession)
		r.Post("/sessions/{sessionId}/connections", a.createConnection)
		r.Get("/sessions/{sessionId}/connections", a.sessionConnections)
		r.Get("/users/{userId}/sessions", a.userSessions)
		r.Get("/connections/active", a.activeConnections)
		r.Delete("/connections/{connectionId}", a.closeConnection)
	})
	r.Route("/api/recording", func(r chi.Router) {
		r.Post("/", a.startRecording)
		r.Get("/active", a.activeRecordings)
		r.Get("/sessions/{sessionId}", a.sessionRecordings)
		r.Get("/{recordingId}", a.getRecording)
		r.Get("/{recordingId}/download", a.downloadRecording)
		r.Put("/{recordingId}/stop", a.stopRecording)
		r.Put("/{recordingId}/pause", a.pauseRecording)
		r.Put("/{recordingId}/resume", a.resumeRecording)
		r.Delete("/{recordingId}", a.deleteRecording)
	})
	return r
}

func (a *api) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !a.decode(w, r, &req) {
		return
	}
	u, err := a.svc.RegisterUser(r.Context(), req.UserID, req.ConnectionID, req.Type, req.GroupID)
	a.respond(w, http.StatusCreated, u, err)
}

func (a *api) onlineUsers(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, orEmpty(a.svc.GetOnlineUsers()))
}

func (a *api) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := identity.ParseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	u, ok := a.svc.Repos().Users.ByUserID(id)
	a.found(w, u, ok, "user", string(id))
}

func (a *api) setOnline(w http.ResponseWriter, r *http.Request) {
	var req setOnlineRequest
	if !a.decode(w, r, &req) {
		return
	}
	u, err := a.svc.SetOnline(r.Context(), chi.URLParam(r, "userId"), req.ConnectionID)
	a.respond(w, http.StatusOK, u, err)
}

func (a *api) setOffline(w http.ResponseWriter, r *http.Request) {
	u, err := a.svc.SetOffline(r.Context(), chi.URLParam(r, "userId"))
	a.respond(w, http.StatusOK, u, err)
}

func (a *api) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !a.decode(w, r, &req) {
		return
	}
	sess, err := a.svc.StartSession(r.Context(), req.UserID)
	a.respond(w, http.StatusCreated, sess, err)
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	sess, ok := a.svc.Repos().Sessions.Get(id)
	a.found(w, sess, ok, "session", id)
}

func (a *api) userSessions(w http.ResponseWriter, r *http.Request) {
	id, err := identity.ParseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, orEmpty(a.svc.Repos().Sessions.ByUser(id)))
}

func (a *api) activeSessions(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, orEmpty(a.svc.Repos().Sessions.Active()))
}

func (a *api) startSharing(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.StartSharing(r.Context(), chi.URLParam(r, "sessionId"))
	a.respond(w, http.StatusOK, sess, err)
}

func (a *api) stopSharing(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.StopSharing(r.Context(), chi.URLParam(r, "sessionId"))
	a.respond(w, http.StatusOK, sess, err)
}

func (a *api) endSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.EndSession(r.Context(), chi.URLParam(r, "sessionId"))
	a.respond(w, http.StatusOK, sess, err)
}

func (a *api) createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if !a.decode(w, r, &req) {
		return
	}
	conn, err := a.svc.CreateConnection(chi.URLParam(r, "sessionId"), req.ConnectionID, req.TargetUserID, req.Type)
	a.respond(w, http.StatusCreated, conn, err)
}

func (a *api) sessionConnections(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, orEmpty(a.svc.Repos().Connections.BySession(chi.URLParam(r, "sessionId"))))
}

func (a *api) activeConnections(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, orEmpty(a.svc.Repos().Connections.Active()))
}

func (a *api) closeConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := a.svc.CloseConnection(chi.URLParam(r, "connectionId"))
	a.respond(w, http.StatusOK, conn, err)
}

func (a *api) startRecording(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if !a.decode(w, r, &req) {
		return
	}
	var quality domain.Quality
	if req.Quality != "" {
		q, err := domain.ParseQuality(req.Quality)
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Detail: err.Error()})
			return
		}
		quality = q
	}
	rec, err := a.svc.StartRecording(r.Context(), req.SessionID, quality)
	a.respond(w, http.StatusCreated, rec, err)
}

func (a *api) getRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordingId")
	rec, ok := a.svc.Repos().Recordings.Get(id)
	a.found(w, rec, ok, "recording", id)
}

// downloadRecording streams the media file of a recording. A recording whose
// capture wrote nothing has no file to serve.
func (a *api) downloadRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordingId")
	rec, ok := a.svc.Repos().Recordings.Get(id)
	if !ok || rec.FilePath == "" {
		a.writeError(w, fmt.Errorf("%w: recording %s", store.ErrNotFound, id))
		return
	}
	f, err := os.Open(rec.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		a.writeError(w, fmt.Errorf("%w: recording file %s", store.ErrNotFound, rec.FileName))
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.FileName}))
	http.ServeContent(w, r, rec.FileName, st.ModTime(), f)
}

func (a *api) sessionRecordings(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, orEmpty(a.svc.Repos().Recordings.BySession(chi.URLParam(r, "sessionId"))))
}

func (a *api) activeRecordings(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, orEmpty(a.svc.Repos().Recordings.Active()))
}

func (a *api) stopRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.StopRecording(r.Context(), chi.URLParam(r, "recordingId"))
	a.respond(w, http.StatusOK, rec, err)
}

func (a *api) pauseRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.PauseRecording(chi.URLParam(r, "recordingId"))
	a.respond(w, http.StatusOK, rec, err)
}

func (a *api) resumeRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.ResumeRecording(chi.URLParam(r, "recordingId"))
	a.respond(w, http.StatusOK, rec, err)
}

func (a *api) deleteRecording(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteRecording(r.Context(), chi.URLParam(r, "recordingId")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a single JSON object into dst and validates it. On failure it
// writes a 400 and reports false.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: err.Error()})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Detail: validationDetail(err)})
		return false
	}
	return true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s is %s", fe.Field(), fe.Tag())
}

func (a *api) respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		a.writeError(w, err)
		return
	}
	WriteJSON(w, status, v)
}

func (a *api) found(w http.ResponseWriter, v any, ok bool, kind, id string) {
	if !ok {
		a.writeError(w, fmt.Errorf("%w: %s %s", store.ErrNotFound, kind, id))
		return
	}
	WriteJSON(w, http.StatusOK, v)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("api request failed", "err", err)
	}
	WriteJSON(w, status, errorBody{Error: code, Detail: err.Error()})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrInvalidIdentity):
		return http.StatusBadRequest, "invalid_identity"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict, "duplicate_key"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, coordinator.ErrCapabilityFailure):
		return http.StatusBadGateway, "capability_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
