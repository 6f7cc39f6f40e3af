package main

import (
	"flag"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoanBrand/ScopeCapture/config"
	"github.com/RoanBrand/ScopeCapture/http"
	"github.com/RoanBrand/ScopeCapture/log"
	"github.com/RoanBrand/ScopeCapture/scope"
	"github.com/kardianos/service"
)

// Long-running service that polls the scope setup state periodically and
// serves it over HTTP, so the instrument can be watched without touching a
// running acquisition.

const pollInterval = 10 * time.Second

type monitorState struct {
	Reachable bool              `json:"reachable"`
	LastSeen  time.Time         `json:"last_seen,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	Settings  map[string]string `json:"-"`
}

type app struct {
	conf *config.Config

	mu    sync.RWMutex
	state monitorState
}

func (a *app) Start(s service.Service) error {
	go a.run()
	return nil
}

func (a *app) run() {
	execPath, err := os.Executable()
	if err != nil {
		panic(err)
	}

	conf, err := config.LoadConfig(filepath.Join(filepath.Dir(execPath), "config.json"))
	if err != nil {
		panic(err)
	}
	a.conf = conf

	log.Setup(log.LevelInfo, false)
	http.SetupServer(a.getStatus, a.getSettings)

	go a.poll()

	port := conf.HTTPServerPort
	if port == "" {
		port = "80"
	}
	if err = http.StartServer(port); err != nil {
		panic(err)
	}
}

func (a *app) Stop(s service.Service) error {
	return nil
}

func (a *app) poll() {
	for {
		a.pollOnce()
		time.Sleep(pollInterval)
	}
}

func (a *app) pollOnce() {
	s, err := scope.Dial(a.conf.ScopeAddress, time.Duration(a.conf.TimeoutSeconds)*time.Second)
	if err != nil {
		a.setError(err)
		return
	}
	defer s.Close()

	settings, err := s.Settings()
	if err != nil {
		a.setError(err)
		return
	}

	a.mu.Lock()
	a.state.Reachable = true
	a.state.LastSeen = time.Now()
	a.state.LastError = ""
	a.state.Settings = settings
	a.mu.Unlock()
}

func (a *app) setError(err error) {
	log.Printf("scope poll failed: %v", err)
	a.mu.Lock()
	a.state.Reachable = false
	a.state.LastError = err.Error()
	a.mu.Unlock()
}

func (a *app) getStatus() (interface{}, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state, nil
}

func (a *app) getSettings() (interface{}, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Settings, nil
}

func main() {
	svcFlag := flag.String("service", "", "Control the system service.")
	flag.Parse()

	svcConfig := &service.Config{
		Name:        "ScopeCaptureMonitor",
		DisplayName: "Scope Capture Monitor",
		Description: "Serves the setup state of the lab scope over HTTP",
	}

	prg := &app{}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	if *svcFlag != "" {
		err = service.Control(s, *svcFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}

	logger, err := s.Logger(nil)
	if err != nil {
		log.Fatal(err)
	}
	err = s.Run()
	if err != nil {
		logger.Error(err)
	}
}
