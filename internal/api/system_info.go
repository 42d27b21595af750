package api

import (
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/bridgelab/relaybridge/internal/iface"
)

// BuildVersion is injected at build time:
//
//	go build -ldflags "-X 'github.com/bridgelab/relaybridge/internal/api.BuildVersion=1.2.3'"
var BuildVersion = "latest"

var sysMonitor = newSysMonitor()

type netSample struct {
	Rx uint64
	Tx uint64
}

// SysInfoResp is the host snapshot the UI's system panel renders.
type SysInfoResp struct {
	Timestamp int64 `json:"timestamp"`

	App struct {
		StartAt   int64  `json:"start_at"`
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		LANIP     string `json:"lan_ip"`
	} `json:"app"`

	Host struct {
		Hostname      string `json:"hostname"`
		OS            string `json:"os"`
		Platform      string `json:"platform"`
		PlatformVer   string `json:"platform_version"`
		KernelVersion string `json:"kernel_version"`
		Arch          string `json:"arch"`
		Uptime        uint64 `json:"uptime"`
	} `json:"host"`

	CPU struct {
		ModelName  string  `json:"model_name"`
		Cores      int     `json:"cores"`
		UsageTotal float64 `json:"usage_total"`
		Load1      float64 `json:"load1"`
		Load5      float64 `json:"load5"`
		Load15     float64 `json:"load15"`
	} `json:"cpu"`

	Memory struct {
		Total       uint64  `json:"total"`
		Used        uint64  `json:"used"`
		Free        uint64  `json:"free"`
		UsedPercent float64 `json:"used_percent"`
	} `json:"memory"`

	Net []struct {
		Name    string `json:"name"`
		IP      string `json:"ip"`
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
		RxBps   uint64 `json:"rx_bps"`
		TxBps   uint64 `json:"tx_bps"`
	} `json:"net"`
}

// sysMonitorState keeps the last interface counters so consecutive calls
// yield a rate instead of a lifetime average.
type sysMonitorState struct {
	mu         sync.Mutex
	lastAt     time.Time
	lastIfMap  map[string]netSample
	appStartAt time.Time
}

func newSysMonitor() *sysMonitorState {
	return &sysMonitorState{
		lastAt:     time.Now(),
		lastIfMap:  map[string]netSample{},
		appStartAt: time.Now(),
	}
}

func (m *sysMonitorState) snapshot() *SysInfoResp {
	now := time.Now()

	hi, _ := host.Info()
	vm, _ := mem.VirtualMemory()
	ld, _ := load.Avg()
	cpuInfos, _ := cpu.Info()
	logical, _ := cpu.Counts(true)
	perCore, _ := cpu.Percent(0, true)
	ifStats, _ := gnet.IOCounters(true)
	ifaces, _ := gnet.Interfaces()

	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := now.Sub(m.lastAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	resp := &SysInfoResp{Timestamp: now.UnixMilli()}
	resp.App.StartAt = m.appStartAt.UnixMilli()
	resp.App.Version = BuildVersion
	resp.App.GoVersion = runtime.Version()
	resp.App.LANIP = iface.Discover()

	if hi != nil {
		resp.Host.Hostname = hi.Hostname
		resp.Host.OS = hi.OS
		resp.Host.Platform = hi.Platform
		resp.Host.PlatformVer = hi.PlatformVersion
		resp.Host.KernelVersion = hi.KernelVersion
		resp.Host.Uptime = hi.Uptime
	}
	resp.Host.Arch = runtime.GOARCH

	resp.CPU.Cores = logical
	if len(cpuInfos) > 0 {
		resp.CPU.ModelName = cpuInfos[0].ModelName
	}
	if len(perCore) > 0 {
		var sum float64
		for _, v := range perCore {
			sum += v
		}
		resp.CPU.UsageTotal = sum / float64(len(perCore))
	}
	if ld != nil {
		resp.CPU.Load1, resp.CPU.Load5, resp.CPU.Load15 = ld.Load1, ld.Load5, ld.Load15
	}

	if vm != nil {
		resp.Memory.Total = vm.Total
		resp.Memory.Used = vm.Used
		resp.Memory.Free = vm.Available
		resp.Memory.UsedPercent = vm.UsedPercent
	}

	for _, st := range ifStats {
		up := false
		ip := ""
		for _, inf := range ifaces {
			if inf.Name != st.Name {
				continue
			}
			for _, f := range inf.Flags {
				if strings.EqualFold(f, "up") {
					up = true
				}
			}
			ip = firstIPv4(inf.Addrs)
			break
		}
		if !up {
			continue
		}

		prev, ok := m.lastIfMap[st.Name]
		var drx, dtx uint64
		if ok {
			if st.BytesRecv >= prev.Rx {
				drx = st.BytesRecv - prev.Rx
			}
			if st.BytesSent >= prev.Tx {
				dtx = st.BytesSent - prev.Tx
			}
		}
		resp.Net = append(resp.Net, struct {
			Name    string `json:"name"`
			IP      string `json:"ip"`
			RxBytes uint64 `json:"rx_bytes"`
			TxBytes uint64 `json:"tx_bytes"`
			RxBps   uint64 `json:"rx_bps"`
			TxBps   uint64 `json:"tx_bps"`
		}{
			Name: st.Name, IP: ip,
			RxBytes: st.BytesRecv, TxBytes: st.BytesSent,
			RxBps: uint64(float64(drx) / elapsed),
			TxBps: uint64(float64(dtx) / elapsed),
		})
		m.lastIfMap[st.Name] = netSample{Rx: st.BytesRecv, Tx: st.BytesSent}
	}

	m.lastAt = now
	return resp
}

func firstIPv4(addrs []gnet.InterfaceAddr) string {
	for _, a := range addrs {
		plain := a.Addr
		if i := strings.IndexByte(plain, '/'); i > 0 {
			plain = plain[:i]
		}
		if strings.Count(plain, ".") == 3 && !strings.Contains(plain, ":") {
			return plain
		}
	}
	return ""
}

// GET /api/systemInfo
func (s *Server) systemInfo(c *gin.Context) {
	c.JSON(http.StatusOK, sysMonitor.snapshot())
}
