package http

import (
	"encoding/json"
	"net/http"

	"github.com/RoanBrand/ScopeCapture/log"
)

var statusFunc func() (interface{}, error)
var settingsFunc func() (interface{}, error)

// SetupServer registers the status endpoints. statusGetter serves the live
// acquisition state, settingsGetter the scope settings snapshot taken at
// run start.
func SetupServer(statusGetter, settingsGetter func() (interface{}, error)) {
	statusFunc = statusGetter
	settingsFunc = settingsGetter
	http.HandleFunc("/status", statusEndpoint)
	http.HandleFunc("/settings", settingsEndpoint)
}

// StartServer blocks serving the status endpoints on port.
func StartServer(port string) error {
	log.Println("Starting acquisition status server on port " + port)
	return http.ListenAndServe(":"+port, nil)
}

func statusEndpoint(w http.ResponseWriter, r *http.Request) {
	serve(w, statusFunc)
}

func settingsEndpoint(w http.ResponseWriter, r *http.Request) {
	serve(w, settingsFunc)
}

func serve(w http.ResponseWriter, get func() (interface{}, error)) {
	if get == nil {
		http.Error(w, "not configured", http.StatusNotFound)
		return
	}

	result, err := get()
	if err != nil {
		errMsg := "Error querying status: " + err.Error()
		log.Println(errMsg)
		http.Error(w, errMsg, http.StatusInternalServerError)
		return
	}

	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/json")
	err = enc.Encode(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
