package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"il0373/internal/battery"
	"il0373/internal/config"
	"il0373/internal/epd"
	appLog "il0373/internal/log"
	"il0373/internal/web"
)

func testPanel(t *testing.T) *panel {
	t.Helper()
	cfg, err := epd.NewBuilder().
		Dimensions(epd.Dimensions{Rows: 104, Cols: 64}).
		Rotation(epd.Rotate90).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	p, err := newMemoryPanel(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func countColors(t *testing.T, s epd.Surface) map[epd.Color]int {
	t.Helper()
	g, ok := s.(*epd.GraphicDisplay)
	if !ok {
		t.Fatalf("surface is %T", s)
	}
	counts := map[epd.Color]int{}
	w, h := g.Size()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			counts[g.Pixel(x, y)]++
		}
	}
	return counts
}

func TestDrawText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantBlack bool
		wantRed   bool
	}{
		{"black line", "Hello", true, false},
		{"red line", "!Alert", false, true},
		{"both", "Hello\n!Alert", true, true},
		{"empty", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPanel(t)
			if err := drawText(p.surface, tt.text); err != nil {
				t.Fatalf("drawText() error = %v", err)
			}
			counts := countColors(t, p.surface)
			if got := counts[epd.Black] > 0; got != tt.wantBlack {
				t.Errorf("black pixels = %d", counts[epd.Black])
			}
			if got := counts[epd.Red] > 0; got != tt.wantRed {
				t.Errorf("red pixels = %d", counts[epd.Red])
			}
		})
	}
}

func TestDrawContentImage(t *testing.T) {
	p := testPanel(t)
	w, h := p.surface.Size()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 0xFF, A: 0xFF})
		}
	}
	path := filepath.Join(t.TempDir(), "red.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	content := config.ContentConfig{Text: "ignored", Image: path}
	if err := drawContent(context.Background(), p.surface, content); err != nil {
		t.Fatalf("drawContent() error = %v", err)
	}
	want := map[epd.Color]int{epd.Red: w * h}
	if diff := cmp.Diff(want, countColors(t, p.surface)); diff != "" {
		t.Errorf("colors mismatch (-want +got):\n%s", diff)
	}
}

func TestDrawContentMissingImage(t *testing.T) {
	p := testPanel(t)
	content := config.ContentConfig{Image: filepath.Join(t.TempDir(), "missing.png")}
	if err := drawContent(context.Background(), p.surface, content); err == nil {
		t.Error("drawContent() succeeded with a missing image")
	}
}

func TestRefreshRenderOnly(t *testing.T) {
	dir := t.TempDir()
	conf := config.DefaultConfig()
	conf.Content = config.ContentConfig{Text: "Hi\n!there"}

	p := testPanel(t)
	a := &app{
		conf:    conf,
		panel:   p,
		srv:     web.NewServer(conf, nil),
		dumpDir: dir,
	}
	if err := a.refresh(context.Background()); err != nil {
		t.Fatalf("refresh() error = %v", err)
	}

	black, red, err := p.planes()
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string][]byte{"black.bin": black, "red.bin": red} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "preview.png")); err != nil {
		t.Errorf("preview.png: %v", err)
	}

	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/red.bin", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /red.bin = %d", rec.Code)
	}
	if diff := cmp.Diff(red, rec.Body.Bytes()); diff != "" {
		t.Errorf("served red plane mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags flagConfig
		want  config.ContentConfig
	}{
		{"none", flagConfig{}, config.ContentConfig{Text: "Hello, IL0373"}},
		{"text", flagConfig{text: "x"}, config.ContentConfig{Text: "x"}},
		{"image", flagConfig{image: "a.png"}, config.ContentConfig{Image: "a.png"}},
		{"url wins", flagConfig{text: "x", url: "http://y"}, config.ContentConfig{URL: "http://y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := config.DefaultConfig()
			applyFlags(conf, tt.flags)
			if diff := cmp.Diff(tt.want, conf.Content); diff != "" {
				t.Errorf("content mismatch (-want +got):\n%s", diff)
			}
		})
	}

	conf := config.DefaultConfig()
	applyFlags(conf, flagConfig{listen: ":9090"})
	if conf.Listen != ":9090" {
		t.Errorf("Listen = %q", conf.Listen)
	}
}

type fakeGauge struct{ reads int }

func (g *fakeGauge) Read(context.Context) (battery.Status, error) {
	g.reads++
	return battery.Status{Percent: 42, VoltageMv: 3800}, nil
}

func TestRefreshReadsBattery(t *testing.T) {
	conf := config.DefaultConfig()
	g := &fakeGauge{}
	a := &app{conf: conf, panel: testPanel(t), srv: web.NewServer(conf, nil), battery: g}
	a.srv.SetBatteryReader(g)

	if err := a.refresh(context.Background()); err != nil {
		t.Fatalf("refresh() error = %v", err)
	}
	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/battery", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/battery = %d", rec.Code)
	}
	if g.reads != 1 {
		t.Errorf("gauge reads = %d, want 1", g.reads)
	}
}

var errBus = errors.New("bus: injected failure")

// bus is a DisplayInterface with an SRAM attached. It records "reset",
// every command opcode and every plane write by its opcode, and fails the
// call whose label is failOn.
type bus struct {
	calls  []string
	failOn string
	mem    [1 << 16]byte
}

var _ epd.DisplayInterface = (*bus)(nil)

func (b *bus) record(label string) error {
	if label == b.failOn {
		return errBus
	}
	b.calls = append(b.calls, label)
	return nil
}

func (b *bus) SendCommand(cmd byte) error { return b.record(fmt.Sprintf("%02x", cmd)) }
func (b *bus) SendData([]byte) error      { return nil }
func (b *bus) Reset(epd.DelayFunc) error  { return b.record("reset") }
func (b *bus) BusyWait()                  {}

func (b *bus) UpdateData(l epd.Layer, _ []byte) error        { return b.plane(l) }
func (b *bus) SramUpdateData(l epd.Layer, _, _ uint16) error { return b.plane(l) }

func (b *bus) plane(l epd.Layer) error {
	if l == epd.RedLayer {
		return b.record("13")
	}
	return b.record("10")
}

func (b *bus) SramRead(addr uint16, data []byte) error {
	copy(data, b.mem[addr:])
	return nil
}

func (b *bus) SramWrite(addr uint16, data []byte) error {
	copy(b.mem[addr:], data)
	return nil
}

func (b *bus) SramClear(addr, n uint16, val byte) error {
	for i := uint16(0); i < n; i++ {
		b.mem[addr+i] = val
	}
	return nil
}

func hardwarePanel(t *testing.T, b *bus, sram bool) *panel {
	t.Helper()
	cfg, err := epd.NewBuilder().
		Dimensions(epd.Dimensions{Rows: 16, Cols: 16}).
		Rotation(epd.Rotate0).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	d := epd.NewDisplay(b, cfg)
	var p *panel
	if sram {
		p = newSramPanel(d)
	} else {
		if p, err = newGraphicPanel(d); err != nil {
			t.Fatal(err)
		}
	}
	p.cfg = cfg
	p.hardware = true
	return p
}

func seq(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestRefreshHardware(t *testing.T) {
	var (
		wake   = []string{"reset", "01", "06", "04", "00", "50", "30", "82", "61"}
		update = []string{"10", "13", "12"}
		sleep  = []string{"50", "82", "03", "08"}
	)
	text := config.ContentConfig{Text: "Hi\n!there"}
	missing := config.ContentConfig{Image: filepath.Join(t.TempDir(), "missing.png")}

	tests := []struct {
		name      string
		sram      bool
		content   config.ContentConfig
		failOn    string
		want      []string
		wantState epd.State
		wantErr   string
	}{
		{"host", false, text, "", seq(wake, update, sleep), epd.Sleeping, ""},
		{"host draw fails", false, missing, "", nil, epd.Uninitialized, "draw"},
		{"host update fails", false, text, "10", seq(wake, sleep), epd.Sleeping, "update"},
		{"sram", true, text, "", seq(wake, update, sleep), epd.Sleeping, ""},
		{"sram draw fails", true, missing, "", seq(wake, sleep), epd.Sleeping, "draw"},
		{"sram update fails", true, text, "13", seq(wake, []string{"10"}, sleep), epd.Sleeping, "update"},
		{"reset fails", false, text, "01", []string{"reset"}, epd.Uninitialized, "reset"},
		{"deep sleep fails", false, text, "08", seq(wake, update, sleep[:3]), epd.Active, "deep sleep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &bus{failOn: tt.failOn}
			conf := config.DefaultConfig()
			conf.Content = tt.content
			p := hardwarePanel(t, b, tt.sram)
			a := &app{conf: conf, panel: p, delay: func(time.Duration) {}}

			err := a.refresh(context.Background())
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("refresh() error = %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("refresh() error = %v, want %q", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, b.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if got := p.display.State(); got != tt.wantState {
				t.Errorf("State() = %s, want %s", got, tt.wantState)
			}
		})
	}
}

func TestLoopReturnsServerError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	conf := config.DefaultConfig()
	conf.Listen = ln.Addr().String()
	conf.RefreshCron = "@every 1h"
	a := &app{conf: conf, panel: testPanel(t)}

	done := make(chan error, 1)
	go func() { done <- a.loop(context.Background()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("loop() succeeded with the listen address taken")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop() did not return after the server failed")
	}
}

func TestLoopStops(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"canceled", "@every 1h", false},
		{"invalid schedule", "not a schedule", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := config.DefaultConfig()
			conf.Listen = ""
			conf.RefreshCron = tt.schedule
			a := &app{conf: conf, panel: testPanel(t)}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := a.loop(ctx); (err != nil) != tt.wantErr {
				t.Errorf("loop() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"defaults", "", "", false},
		{"console", "info", "console", false},
		{"json", "debug", "json", false},
		{"unknown format", "info", "xml", true},
		{"unknown level", "loud", "console", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := config.DefaultConfig()
			conf.LogLevel, conf.LogFormat = tt.level, tt.format
			if err := configureLogging(conf, &bytes.Buffer{}); (err != nil) != tt.wantErr {
				t.Errorf("configureLogging() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	var buf bytes.Buffer
	conf := config.DefaultConfig()
	conf.LogFormat = "json"
	if err := configureLogging(conf, &buf); err != nil {
		t.Fatal(err)
	}
	appLog.Info("configured", "format", "json")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("log line %q is not JSON: %v", buf.String(), err)
	}
	if got["message"] != "configured" || got["format"] != "json" {
		t.Errorf("log line = %v", got)
	}
}
