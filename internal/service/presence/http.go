package presence

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oggyb/studymatch/internal/rpc/presencerpc"
)

// RegisterRoutes mounts the HTTP presence endpoints. Heartbeat and offline
// accept the session token in the body so they work from page-unload beacons.
//
//	POST /api/presence/heartbeat   {"status":"online"}
//	POST /api/presence/offline     {"token":"..."}
//	GET  /api/presence/status?ids=1,2,3
func (s *Service) RegisterRoutes(r *mux.Router, authenticate mux.MiddlewareFunc) {
	api := r.PathPrefix("/api/presence").Subrouter()
	api.Use(authenticate)
	api.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	api.HandleFunc("/offline", s.handleOffline).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	// beacons may send an empty or non-JSON body
	if data, _ := io.ReadAll(io.LimitReader(r.Body, 4<<10)); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	resp, err := s.Heartbeat(r.Context(), &presencerpc.HeartbeatRequest{Status: body.Status})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleOffline(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Offline(r.Context(), &presencerpc.OfflineRequest{}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, part := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}

	resp, err := s.GetStatuses(r.Context(), &presencerpc.GetStatusesRequest{UserIDs: ids})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates a gRPC status into an HTTP response.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	code := http.StatusInternalServerError
	switch st.Code() {
	case codes.InvalidArgument:
		code = http.StatusBadRequest
	case codes.Unauthenticated:
		code = http.StatusUnauthorized
	case codes.NotFound:
		code = http.StatusNotFound
	case codes.DeadlineExceeded:
		code = http.StatusGatewayTimeout
	}
	writeJSON(w, code, map[string]string{"error": st.Message()})
}
