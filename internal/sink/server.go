// Package sink receives the multipart uploads sent by the capture loop and
// stores them on disk.
package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"

	"github.com/drksbr/facecam/internal/config"
	"github.com/drksbr/facecam/internal/ids"
	"github.com/drksbr/facecam/internal/logger"
	"github.com/drksbr/facecam/internal/util/bytelimiter"
)

const (
	defaultUsername = "Nulo"
	historyDepth    = 100
	// inflightFactor bounds buffered request bytes to this many maximum
	// sized uploads at once.
	inflightFactor = 4
)

var allowedExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

type record struct {
	Time     time.Time `json:"time"`
	Endpoint string    `json:"endpoint"`
	Path     string    `json:"filepath"`
	Username string    `json:"username,omitempty"`
	Bytes    int       `json:"bytes"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Format   string    `json:"format"`
}

// Server stores identification images under SearchDir and registrations
// under ImageDir.
type Server struct {
	opts     config.SinkConfig
	logger   *slog.Logger
	idGen    func() string
	inflight *bytelimiter.ByteLimiter
	registry *prometheus.Registry
	metrics  *sinkMetrics

	acmeManager *autocert.Manager

	mu      sync.Mutex
	history []record
}

func NewServer(opts config.SinkConfig, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = logger.Discard()
	}
	if opts.MaxUploadBytes <= 0 {
		return nil, errors.New("max upload size must be positive")
	}
	idGen, err := ids.Generator(opts.IDMode)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{opts.SearchDir, opts.ImageDir} {
		if strings.TrimSpace(dir) == "" {
			return nil, errors.New("storage directories are required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	s := &Server{
		opts:     opts,
		logger:   log,
		idGen:    idGen,
		inflight: bytelimiter.New(int(opts.MaxUploadBytes) * inflightFactor),
		registry: prometheus.NewRegistry(),
	}
	s.metrics = newSinkMetrics(s.registry, s.inflight)

	if len(opts.ACMEHosts) > 0 {
		if opts.ACMECache != "" {
			if err := os.MkdirAll(opts.ACMECache, 0o750); err != nil {
				return nil, fmt.Errorf("create acme cache: %w", err)
			}
		}
		s.acmeManager = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(opts.ACMEHosts...),
			Email:      opts.ACMEEmail,
		}
		if opts.ACMECache != "" {
			s.acmeManager.Cache = autocert.DirCache(opts.ACMECache)
		}
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/identificar/", s.handleIdentify)
	mux.HandleFunc("/cadastrar/", s.handleRegister)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

type httpError struct {
	code   int
	detail string
}

func (e *httpError) Error() string { return e.detail }

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	rec, err := s.receive(w, r, "identifica_", s.opts.SearchDir)
	if err != nil {
		s.fail(w, "identificar", err)
		return
	}
	rec.Endpoint = "identificar"
	s.remember(rec)
	s.metrics.observe("identificar", resultStored, rec.Bytes)
	s.logger.Info("search image stored", "path", rec.Path, "bytes", rec.Bytes, "remote", r.RemoteAddr, "request_id", r.Header.Get("X-Request-ID"), "device", r.Header.Get("X-Device-ID"))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "stored",
		"filepath": rec.Path,
		"bytes":    rec.Bytes,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		username = defaultUsername
	}
	rec, err := s.receive(w, r, "", s.opts.ImageDir)
	if err != nil {
		s.fail(w, "cadastrar", err)
		return
	}
	rec.Endpoint = "cadastrar"
	rec.Username = username
	s.remember(rec)
	s.metrics.observe("cadastrar", resultStored, rec.Bytes)
	s.logger.Info("registration stored", "path", rec.Path, "username", username, "bytes", rec.Bytes)
	writeJSON(w, http.StatusOK, map[string]any{
		"filename": filepath.Base(rec.Path),
		"username": username,
	})
}

// receive validates the "file" part and writes it to dir as
// <prefix><id8><ext>.
func (s *Server) receive(w http.ResponseWriter, r *http.Request, prefix, dir string) (record, error) {
	if r.Method != http.MethodPost {
		return record{}, &httpError{http.StatusMethodNotAllowed, "method not allowed"}
	}
	limit := s.opts.MaxUploadBytes
	if r.ContentLength > limit {
		return record{}, &httpError{http.StatusRequestEntityTooLarge, "upload too large"}
	}
	reserve := limit
	if r.ContentLength > 0 {
		reserve = r.ContentLength
	}
	if err := s.inflight.Acquire(r.Context(), int(reserve)); err != nil {
		return record{}, &httpError{http.StatusServiceUnavailable, "server busy"}
	}
	defer s.inflight.Release(int(reserve))

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return record{}, &httpError{http.StatusRequestEntityTooLarge, "upload too large"}
		}
		return record{}, &httpError{http.StatusBadRequest, "invalid multipart form"}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return record{}, &httpError{http.StatusBadRequest, "missing file field"}
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExt[ext] {
		return record{}, &httpError{http.StatusBadRequest, "invalid extension"}
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return record{}, &httpError{http.StatusBadRequest, "unreadable file"}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return record{}, &httpError{http.StatusBadRequest, "invalid image"}
	}

	path := filepath.Join(dir, prefix+ids.Short(s.idGen, 8)+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return record{}, fmt.Errorf("store %s: %w", path, err)
	}
	return record{
		Time:   time.Now(),
		Path:   path,
		Bytes:  len(data),
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}, nil
}

func (s *Server) fail(w http.ResponseWriter, endpoint string, err error) {
	var herr *httpError
	if !errors.As(err, &herr) {
		s.logger.Error("store failed", "endpoint", endpoint, "error", err)
		s.metrics.observe(endpoint, resultError, 0)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "storage error"})
		return
	}
	s.logger.Warn("upload rejected", "endpoint", endpoint, "status", herr.code, "detail", herr.detail)
	s.metrics.observe(endpoint, resultRejected, 0)
	writeJSON(w, herr.code, map[string]string{"detail": herr.detail})
}

func (s *Server) remember(rec record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	if len(s.history) > historyDepth {
		s.history = s.history[len(s.history)-historyDepth:]
	}
}

// handleHistory lists stored uploads, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]record, len(s.history))
	for i, rec := range s.history {
		out[len(s.history)-1-i] = rec
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves plain HTTP on Listen and, when ACME hosts are configured, TLS
// on SecureListen. The plain listener also answers HTTP-01 challenges.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	handler := s.Handler()
	plainHandler := handler
	if s.acmeManager != nil {
		plainHandler = s.acmeManager.HTTPHandler(handler)
	}
	plainSrv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           plainHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info("sink listening", "addr", s.opts.Listen, "search_dir", s.opts.SearchDir, "image_dir", s.opts.ImageDir)
		if err := plainSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sendErr(fmt.Errorf("sink http: %w", err))
		}
	}()

	var secureSrv *http.Server
	if s.acmeManager != nil {
		secureSrv = &http.Server{
			Addr:              s.opts.SecureListen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			TLSConfig:         s.acmeManager.TLSConfig(),
		}
		go func() {
			ln, err := net.Listen("tcp", s.opts.SecureListen)
			if err != nil {
				sendErr(fmt.Errorf("secure listen: %w", err))
				return
			}
			s.logger.Info("secure listening", "addr", s.opts.SecureListen, "hosts", strings.Join(s.opts.ACMEHosts, ","))
			if err := secureSrv.Serve(tls.NewListener(ln, secureSrv.TLSConfig)); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sendErr(fmt.Errorf("secure serve: %w", err))
			}
		}()
	}

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errShutdown := plainSrv.Shutdown(shutdownCtx); errShutdown != nil {
		s.logger.Warn("sink shutdown", "error", errShutdown)
	}
	if secureSrv != nil {
		if errShutdown := secureSrv.Shutdown(shutdownCtx); errShutdown != nil {
			s.logger.Warn("secure shutdown", "error", errShutdown)
		}
	}
	return err
}
