// Package monitoring turns a running kernel into a web server that reports
// the state of the memory system.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sarchlab/vmswap/kern"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sarchlab/vmswap/monitoring/web"
	"github.com/sarchlab/vmswap/recording"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"
)

// Monitor serves the state of a kernel over HTTP.
type Monitor struct {
	kernel     *kern.Kernel
	counter    *recording.Counter
	portNumber int
	log        logrus.FieldLogger

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{log: logrus.StandardLogger()}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.WithField("port", portNumber).
			Warn("monitor port not allowed, using a random port instead")

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(l logrus.FieldLogger) *Monitor {
	m.log = l
	return m
}

// RegisterKernel sets the kernel to be monitored.
func (m *Monitor) RegisterKernel(k *kern.Kernel) {
	m.kernel = k
}

// RegisterCounter sets the hook whose counts are reported.
func (m *Monitor) RegisterCounter(c *recording.Counter) {
	m.counter = c
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the API and the web page.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/swap", m.listSwap)
	r.HandleFunc("/api/tlb", m.listTLB)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/spaces", m.listSpaces)
	r.HandleFunc("/api/space/{asid}", m.listSpaceDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/hooks", m.listHookCounts)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	m.log.WithField("url", url).Info("monitoring server started")

	go func() {
		err := http.Serve(listener, m.Router())
		dieOnErr(err)
	}()

	return url, nil
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.kernel.Frames.Stats())
}

type swapRsp struct {
	NumSlots int `json:"num_slots"`
	NumFree  int `json:"num_free"`
}

func (m *Monitor) listSwap(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, swapRsp{
		NumSlots: m.kernel.Swap.NumSlots(),
		NumFree:  m.kernel.Swap.NumFree(),
	})
}

func (m *Monitor) listTLB(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.kernel.TLB.Stats())
}

type processRsp struct {
	PID      uint64 `json:"pid"`
	Parent   uint64 `json:"parent"`
	State    string `json:"state"`
	ExitCode int    `json:"exit_code"`
	Cause    string `json:"cause,omitempty"`
	ASID     uint64 `json:"asid"`
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	rsp := []processRsp{}
	for _, p := range m.kernel.Processes() {
		status := m.kernel.Status(p)
		pr := processRsp{
			PID:      uint64(p.PID),
			Parent:   uint64(p.Parent),
			State:    status.State.String(),
			ExitCode: status.ExitCode,
			ASID:     uint64(p.AddressSpace().ID()),
		}

		if status.Cause != nil {
			pr.Cause = status.Cause.Error()
		}

		rsp = append(rsp, pr)
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) listSpaces(w http.ResponseWriter, _ *http.Request) {
	spaces := m.kernel.Spaces.Spaces()

	fmt.Fprint(w, "[")
	for i, as := range spaces {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		info := as.Info()
		fmt.Fprintf(w,
			"{\"asid\":%d,\"regions\":%d,\"resident\":%d,\"swapped\":%d}",
			info.ASID, len(info.Regions), info.Resident, info.Swapped)
	}
	fmt.Fprint(w, "]")
}

func (m *Monitor) listSpaceDetails(w http.ResponseWriter, r *http.Request) {
	info, ok := m.findSpaceOr404(w, mux.Vars(r)["asid"])
	if !ok {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(info)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	ASID      string `json:"asid,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	info, ok := m.findSpaceOr404(w, req.ASID)
	if !ok {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(info)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findSpaceOr404(w http.ResponseWriter, asid string) (any, bool) {
	id, err := strconv.ParseUint(asid, 10, 64)
	if err == nil {
		as, found := m.kernel.Spaces.Get(vm.ASID(id))
		if found {
			info := as.Info()
			return &info, true
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err = w.Write([]byte("Address space not found"))
	dieOnErr(err)

	return nil, false
}

func (m *Monitor) listHookCounts(w http.ResponseWriter, _ *http.Request) {
	counts := map[string]uint64{}
	if m.counter != nil {
		counts = m.counter.Counts()
	}

	m.writeJSON(w, counts)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.writeJSON(w, m.progressBars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	m.writeJSON(w, prof)
}

func dieOnErr(err error) {
	if err != nil {
		logrus.Panic(err)
	}
}
