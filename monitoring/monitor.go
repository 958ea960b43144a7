// Package monitoring turns memory engines into an inspectable web server,
// exposing engine internals, tracked hidden states, process resources, and
// CPU profiles over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/graphmem/gam/gam"
)

// Monitor can turn a set of memory engines into a server and allows
// external inspection of the engines and the hidden states they produce.
type Monitor struct {
	portNumber int
	engines    []*gam.Engine

	statesLock sync.Mutex
	states     map[string]*gam.State

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		states: make(map[string]*gam.State),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers an engine to be monitored.
func (m *Monitor) RegisterEngine(e *gam.Engine) {
	m.engines = append(m.engines, e)
}

// TrackState publishes the hidden state of one sequence under a name.
// Callers re-track after every step, since steps return fresh states.
func (m *Monitor) TrackState(name string, s *gam.State) {
	m.statesLock.Lock()
	defer m.statesLock.Unlock()

	m.states[name] = s
}

// ForgetState removes a tracked state once its sequence ends.
func (m *Monitor) ForgetState(name string) {
	m.statesLock.Lock()
	defer m.statesLock.Unlock()

	delete(m.states, name)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
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

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	http.Handle("/", m.router())

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring memory engines with %s\n", url)

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_engines", m.listEngines)
	r.HandleFunc("/api/engine/{name}", m.engineDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/list_states", m.listStates)
	r.HandleFunc("/api/state/{name}/detail", m.stateDetails)
	r.HandleFunc("/api/state/{name}", m.stateSummary)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/", m.index)

	return r
}

// StartServerAndOpen starts the server and opens it in the default browser.
func (m *Monitor) StartServerAndOpen() {
	url := m.StartServer()

	err := browser.OpenURL(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open browser: %s\n", err)
	}
}

func (m *Monitor) index(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, `<html><head><title>Memory Monitor</title></head><body>
<h1>Memory Monitor</h1>
<ul>
<li><a href="/api/list_engines">Engines</a></li>
<li><a href="/api/list_states">States</a></li>
<li><a href="/api/progress">Progress</a></li>
<li><a href="/api/resource">Resources</a></li>
</ul>
</body></html>`)
}

func (m *Monitor) listEngines(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "[")
	for i, e := range m.engines {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "\"%s\"", e.Name())
	}
	fmt.Fprint(w, "]")
}

func (m *Monitor) engineDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	engine := m.findEngineOr404(w, name)
	if engine == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(engine)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	EngineName string `json:"engine_name,omitempty"`
	FieldName  string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		dieOnErr(err)
	}

	engine := m.findEngineOr404(w, req.EngineName)
	if engine == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(engine)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) listStates(w http.ResponseWriter, _ *http.Request) {
	m.statesLock.Lock()
	defer m.statesLock.Unlock()

	names := make([]string, 0, len(m.states))
	for name := range m.states {
		names = append(names, name)
	}

	bytes, err := json.Marshal(names)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

type stateRsp struct {
	Batch     int   `json:"batch"`
	Capacity  int   `json:"capacity"`
	Feats     int   `json:"feats"`
	LiveNodes int   `json:"live_nodes"`
	Edges     int   `json:"edges"`
	T         []int `json:"t"`
}

func (m *Monitor) stateSummary(w http.ResponseWriter, r *http.Request) {
	s := m.findStateOr404(w, mux.Vars(r)["name"])
	if s == nil {
		return
	}

	rsp := stateRsp{
		Batch:     s.Batch(),
		Capacity:  s.Capacity(),
		Feats:     s.Feats(),
		LiveNodes: s.LiveNodes(),
		Edges:     s.Edges.Len(),
		T:         s.T,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) stateDetails(w http.ResponseWriter, r *http.Request) {
	s := m.findStateOr404(w, mux.Vars(r)["name"])
	if s == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(s)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findEngineOr404(
	w http.ResponseWriter,
	name string,
) *gam.Engine {
	var engine *gam.Engine
	for _, e := range m.engines {
		if e.Name() == name {
			engine = e
		}
	}

	if engine == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Engine not found"))
		dieOnErr(err)
	}

	return engine
}

func (m *Monitor) findStateOr404(
	w http.ResponseWriter,
	name string,
) *gam.State {
	m.statesLock.Lock()
	s := m.states[name]
	m.statesLock.Unlock()

	if s == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("State not found"))
		dieOnErr(err)
	}

	return s
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bytes, err := json.Marshal(m.progressBars)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
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

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bytes, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
