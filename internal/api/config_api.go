package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bridgelab/relaybridge/config"
)

// configView is the editable slice of the config document. Admin
// credentials and database settings stay out of the API on purpose.
type configView struct {
	ProxyType string `json:"proxy_type"`
	TCPPort   int    `json:"tcp_port"`
	UDPPort   int    `json:"udp_port"`

	Forwarder struct {
		RemoteHost string `json:"remote_host"`
		RemotePort int    `json:"remote_port"`
		LocalPort  int    `json:"local_port"`
	} `json:"forwarder"`

	Limits struct {
		UploadKbps   int64 `json:"upload_kbps"`
		DownloadKbps int64 `json:"download_kbps"`
	} `json:"limits"`
}

// GET /api/config
func (s *Server) configRead(c *gin.Context) {
	var v configView
	v.ProxyType = string(s.Cfg.ProxyType)
	v.TCPPort = s.Cfg.TCPPort
	v.UDPPort = s.Cfg.UDPPort
	v.Forwarder.RemoteHost = s.Cfg.Forwarder.RemoteHost
	v.Forwarder.RemotePort = s.Cfg.Forwarder.RemotePort
	v.Forwarder.LocalPort = s.Cfg.Forwarder.LocalPort
	v.Limits.UploadKbps = s.Cfg.Limits.UploadKbps
	v.Limits.DownloadKbps = s.Cfg.Limits.DownloadKbps
	c.JSON(http.StatusOK, v)
}

// PUT /api/config. Changes take effect on the next engine start; a
// running engine is deliberately left alone.
func (s *Server) configUpdate(c *gin.Context) {
	var v configView
	if err := c.BindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch config.ProxyType(v.ProxyType) {
	case config.ProxySOCKS5, config.ProxyHTTP:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown proxy_type"})
		return
	}
	if v.TCPPort <= 0 || v.TCPPort > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tcp_port"})
		return
	}
	if v.UDPPort == 0 {
		v.UDPPort = v.TCPPort + 1
	}

	s.Cfg.ProxyType = config.ProxyType(v.ProxyType)
	s.Cfg.TCPPort = v.TCPPort
	s.Cfg.UDPPort = v.UDPPort
	s.Cfg.Forwarder.RemoteHost = v.Forwarder.RemoteHost
	if v.Forwarder.RemotePort > 0 {
		s.Cfg.Forwarder.RemotePort = v.Forwarder.RemotePort
	}
	if v.Forwarder.LocalPort > 0 {
		s.Cfg.Forwarder.LocalPort = v.Forwarder.LocalPort
	}
	s.Cfg.Limits.UploadKbps = v.Limits.UploadKbps
	s.Cfg.Limits.DownloadKbps = v.Limits.DownloadKbps

	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"note": "applies on next engine start",
	})
}
