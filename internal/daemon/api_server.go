package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"slidereel/internal/api"
	"slidereel/internal/config"
	"slidereel/internal/jobs"
	"slidereel/internal/logging"
)

// multipartMemoryLimit bounds the in-memory portion of upload parsing;
// larger parts spill to temp files which are discarded after reading.
const multipartMemoryLimit = 8 << 20

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	upgrader websocket.Upgrader

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.auth(srv.handleStatus))
	mux.HandleFunc("/api/jobs", srv.auth(srv.handleJobs))
	mux.HandleFunc("/api/jobs/", srv.auth(srv.handleJobSubpath))
	mux.HandleFunc("/api/admin/", srv.auth(srv.handleAdmin))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx) //nolint:errcheck
	}
	if s.listener != nil {
		s.listener.Close() //nolint:errcheck
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// auth wraps a handler with bearer-token validation. With no token
// configured every request passes through.
func (s *apiServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		JobDBPath:    status.JobDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
	})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	case http.MethodPost:
		s.submitJob(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := jobs.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}
	snapshots, err := s.daemon.Jobs().List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: snapshots})
}

func (s *apiServer) submitJob(w http.ResponseWriter, r *http.Request) {
	// One request body ceiling covers the archive plus multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, s.daemon.cfg.MaxUploadBytes()+multipartMemoryLimit)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size ceiling")
			return
		}
		s.writeError(w, http.StatusBadRequest, "malformed multipart request")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	payload, err := readUpload(file, s.daemon.cfg.MaxUploadBytes())
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size ceiling")
		return
	}

	snapshot, err := s.daemon.Jobs().Submit(r.Context(), api.SubmitRequest{
		Filename: header.Filename,
		OwnerID:  strings.TrimSpace(r.FormValue("owner")),
		Payload:  payload,
	})
	if err != nil {
		s.writeError(w, submitStatus(err), err.Error())
		return
	}
	s.logger.Info("job submitted",
		logging.String(logging.FieldJobToken, snapshot.Token),
		logging.String("source_file", snapshot.SourceFilename))
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: snapshot})
}

func readUpload(file multipart.File, maxBytes int64) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(payload)) > maxBytes {
		return nil, api.ErrUploadTooLarge
	}
	return payload, nil
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, api.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, api.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, api.ErrNotZipArchive), errors.Is(err, api.ErrUploadEmpty):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleJobSubpath routes /api/jobs/{token} and its nested actions.
func (s *apiServer) handleJobSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	token, action, _ := strings.Cut(rest, "/")
	if token == "" || strings.Contains(action, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch action {
	case "":
		s.describeJob(w, r, token)
	case "download":
		s.downloadArtifact(w, r, token)
	case "cancel":
		s.cancelJob(w, r, token)
	case "events":
		s.streamEvents(w, r, token)
	default:
		s.writeError(w, http.StatusNotFound, "job not found")
	}
}

func (s *apiServer) describeJob(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot, err := s.daemon.Jobs().Describe(r.Context(), token)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snapshot == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: *snapshot})
}

func (s *apiServer) downloadArtifact(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, err := s.daemon.Store().GetByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status != jobs.StatusCompleted || job.Result == nil {
		s.writeError(w, http.StatusConflict, "job has no artifacts yet")
		return
	}

	artifact := r.URL.Query().Get("artifact")
	if artifact == "" {
		artifact = "video"
	}
	var path, contentType, suffix string
	switch artifact {
	case "video":
		path, contentType, suffix = job.Result.VideoPath, "video/mp4", ".mp4"
	case "thumbnail":
		path, contentType, suffix = job.Result.ThumbnailPath, "image/jpeg", ".jpg"
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown artifact %q", artifact))
		return
	}
	if path == "" {
		s.writeError(w, http.StatusNotFound, "artifact not available")
		return
	}

	file, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "artifact unreadable")
		return
	}
	defer file.Close()

	base := strings.TrimSuffix(filepath.Base(job.SourceFilename), filepath.Ext(job.SourceFilename))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+suffix))
	http.ServeContent(w, r, base+suffix, job.UpdatedAt, file)
}

func (s *apiServer) cancelJob(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result, err := s.daemon.Jobs().Cancel(r.Context(), token)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch result.Outcome {
	case api.CancelNotFound:
		s.writeError(w, http.StatusNotFound, "job not found")
	case api.CancelAlreadyTerminal:
		s.writeJSON(w, http.StatusConflict, result)
	default:
		// The store flag stops the job between stages; this interrupts the
		// stage currently running.
		s.daemon.CancelJobByToken(r.Context(), token)
		s.writeJSON(w, http.StatusAccepted, result)
	}
}

// streamEvents upgrades to a websocket and relays this job's hub updates
// until the client disconnects or the daemon shuts down.
func (s *apiServer) streamEvents(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot, err := s.daemon.Jobs().Describe(r.Context(), token)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snapshot == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, cancel := s.daemon.Hub().Subscribe()
	defer cancel()

	// Read pump: the client never sends data, but reading surfaces the close
	// frame so the write loop can stop.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.JobToken != token {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleAdmin covers the maintenance surface that has no backing
// implementation yet. The routes are reserved; calling them is an explicit
// 501 rather than a 404 so clients can tell "unsupported" from "mistyped".
func (s *apiServer) handleAdmin(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/api/admin/") {
	case "purge", "retention", "reindex":
		s.writeError(w, http.StatusNotImplemented, "not implemented")
	default:
		s.writeError(w, http.StatusNotFound, "unknown admin route")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
