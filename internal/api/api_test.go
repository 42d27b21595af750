package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bridgelab/relaybridge/config"
	"github.com/bridgelab/relaybridge/internal/engine"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		ProxyType: config.ProxySOCKS5,
		TCPPort:   4884,
		UDPPort:   4885,
		Admin: config.AdminConfig{
			Enable:      true,
			Username:    "admin",
			Password:    "secret",
			JWTSecret:   "test-secret",
			TokenTTLMin: 60,
		},
	}
	eng := engine.New(cfg, nil)
	s := New(cfg, eng, nil)
	return s, s.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, h http.Handler) string {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/login", "", map[string]string{
		"username": "admin", "password": "secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("empty token")
	}
	return resp.Token
}

func TestLoginWrongPassword(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodPost, "/api/login", "", map[string]string{
		"username": "admin", "password": "nope",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}
}

func TestStatusRequiresToken(t *testing.T) {
	_, h := newTestServer(t)
	if w := doJSON(t, h, http.MethodGet, "/api/status", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/api/status", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401 for bad token", w.Code)
	}
}

func TestStatusReportsEngineState(t *testing.T) {
	_, h := newTestServer(t)
	token := loginToken(t, h)

	w := doJSON(t, h, http.MethodGet, "/api/status", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", w.Code, w.Body.String())
	}
	var st struct {
		Running   bool   `json:"running"`
		ProxyType string `json:"proxy_type"`
		TCPPort   int    `json:"tcp_port"`
		UDPPort   int    `json:"udp_port"`
		Clients   int    `json:"clients"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Running {
		t.Fatalf("engine reported running before Start")
	}
	if st.ProxyType != "socks5" || st.TCPPort != 4884 || st.UDPPort != 4885 {
		t.Fatalf("status = %+v", st)
	}
	if st.Clients != 0 {
		t.Fatalf("clients = %d, want 0", st.Clients)
	}
}

func TestTrafficSnapshotZeroBeforeStart(t *testing.T) {
	_, h := newTestServer(t)
	token := loginToken(t, h)

	w := doJSON(t, h, http.MethodGet, "/api/traffic", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var snap struct {
		UploadTotal   uint64 `json:"upload_total"`
		DownloadTotal uint64 `json:"download_total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.UploadTotal != 0 || snap.DownloadTotal != 0 {
		t.Fatalf("snapshot = %+v, want zeros", snap)
	}
}

func TestHistoryDisabledWithoutStore(t *testing.T) {
	_, h := newTestServer(t)
	token := loginToken(t, h)
	if w := doJSON(t, h, http.MethodGet, "/api/traffic/history", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestConfigUpdateAppliesToNextStart(t *testing.T) {
	s, h := newTestServer(t)
	token := loginToken(t, h)

	body := map[string]any{
		"proxy_type": "http",
		"tcp_port":   8080,
	}
	w := doJSON(t, h, http.MethodPut, "/api/config", token, body)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", w.Code, w.Body.String())
	}
	if s.Cfg.ProxyType != config.ProxyHTTP {
		t.Fatalf("proxy_type = %q, want http", s.Cfg.ProxyType)
	}
	if s.Cfg.TCPPort != 8080 {
		t.Fatalf("tcp_port = %d, want 8080", s.Cfg.TCPPort)
	}
	if s.Cfg.UDPPort != 8081 {
		t.Fatalf("udp_port = %d, want tcp+1", s.Cfg.UDPPort)
	}
}

func TestConfigUpdateRejectsBadProxyType(t *testing.T) {
	_, h := newTestServer(t)
	token := loginToken(t, h)
	w := doJSON(t, h, http.MethodPut, "/api/config", token, map[string]any{
		"proxy_type": "ftp", "tcp_port": 4884,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}
