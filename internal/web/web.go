package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"il0373/internal/battery"
	"il0373/internal/config"
	"il0373/internal/convert"
	"il0373/internal/epd"
	appLog "il0373/internal/log"
)

// Frame is a pair of planes last sent to the panel.
type Frame struct {
	Config    *epd.Config
	Black     []byte
	Red       []byte
	UpdatedAt time.Time
}

// RefreshFunc redraws and updates the panel.
type RefreshFunc func(ctx context.Context) error

// Server exposes the current frame over HTTP for previewing without looking
// at the panel.
type Server struct {
	cfg     *config.Config
	refresh RefreshFunc
	mux     *http.ServeMux

	frameMu sync.RWMutex
	frame   *Frame
	// png caches the encoded preview of frame.
	png []byte

	// In-memory cache for battery status. This avoids hitting I2C on every
	// single HTTP call.
	batteryReader battery.Reader
	batteryMu     sync.RWMutex
	batteryCache  *batteryCache
}

type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

// batteryCacheTTL bounds how stale /api/battery may be.
const batteryCacheTTL = 30 * time.Second

// NewServer constructs a new Server. refresh may be nil, in which case
// POST /api/refresh is not available.
func NewServer(cfg *config.Config, refresh RefreshFunc) *Server {
	s := &Server{
		cfg:     cfg,
		refresh: refresh,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// SetFrame publishes a new frame. The planes are copied.
func (s *Server) SetFrame(f Frame) {
	f.Black = append([]byte(nil), f.Black...)
	f.Red = append([]byte(nil), f.Red...)
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now()
	}
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	s.frame = &f
	s.png = nil
}

// SetBatteryReader enables /api/battery. It must be called before serving.
func (s *Server) SetBatteryReader(r battery.Reader) {
	s.batteryReader = r
}

// SetBatteryStatus seeds the battery cache with a fresh reading.
func (s *Server) SetBatteryStatus(st battery.Status) {
	s.batteryMu.Lock()
	defer s.batteryMu.Unlock()
	s.batteryCache = &batteryCache{status: st, updatedAt: time.Now()}
}

func (s *Server) currentFrame() *Frame {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="il0373", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the server on s.cfg.Listen until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
	s.mux.HandleFunc("/black.bin", s.handlePlane(func(f *Frame) []byte { return f.Black }))
	s.mux.HandleFunc("/red.bin", s.handlePlane(func(f *Frame) []byte { return f.Red }))
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/battery", s.handleBattery)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview renders the current frame as the panel would show it.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	data, err := s.previewPNG()
	if err != nil {
		appLog.Error("failed to render preview", err)
		writeError(w, http.StatusInternalServerError, "failed to render preview")
		return
	}
	if data == nil {
		writeError(w, http.StatusNotFound, "no frame yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) previewPNG() ([]byte, error) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if s.frame == nil {
		return nil, nil
	}
	if s.png != nil {
		return s.png, nil
	}
	img, err := convert.Preview(s.frame.Config, s.frame.Black, s.frame.Red)
	if err != nil {
		return nil, err
	}
	data, err := convert.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	s.png = data
	return data, nil
}

func (s *Server) handlePlane(plane func(*Frame) []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		f := s.currentFrame()
		if f == nil {
			writeError(w, http.StatusNotFound, "no frame yet")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(plane(f))
	}
}

type statusResponse struct {
	Rows      int        `json:"rows"`
	Cols      int        `json:"cols"`
	Rotation  string     `json:"rotation"`
	SRAM      bool       `json:"sram"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{}
	if s.cfg != nil {
		resp.Rows = s.cfg.Panel.Rows
		resp.Cols = s.cfg.Panel.Cols
		resp.SRAM = s.cfg.SRAM
	}
	if f := s.currentFrame(); f != nil {
		d := f.Config.Dimensions()
		resp.Rows, resp.Cols = int(d.Rows), int(d.Cols)
		resp.Rotation = f.Config.Rotation().String()
		t := f.UpdatedAt
		resp.UpdatedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not available")
		return
	}
	if err := s.refresh(r.Context()); err != nil {
		appLog.Error("refresh via HTTP failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleBattery exposes current battery status (percent, voltage).
//
// Readings are cached for batteryCacheTTL; battery status does not need
// sub-second precision.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.batteryReader == nil {
		writeError(w, http.StatusNotFound, "battery gauge not configured")
		return
	}

	// Fast path: return cached value if it's still fresh.
	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && time.Since(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, bc.status)
		return
	}

	status, err := s.batteryReader.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}
	s.SetBatteryStatus(status)
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
