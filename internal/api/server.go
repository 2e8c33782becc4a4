package api

import (
	"encoding/json"
	"net/http"

	"github.com/n0remac/video-compositor/internal/errs"
	"github.com/n0remac/video-compositor/internal/logging"
)

// Server wraps the dispatcher behind the single-endpoint HTTP surface,
// grounded on original_source/src/http.rs's request loop and deferred-
// response handling.
type Server struct {
	dispatcher *Dispatcher
	log        *logging.Logger
}

func NewServer(d *Dispatcher, log *logging.Logger) *Server {
	return &Server{dispatcher: d, log: log.Tagged("api")}
}

// Handler returns the mux this server's single endpoint is registered
// on, in the teacher's plain net/http style (no router dependency).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/api", s.handle)
	return mux
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.MalformedRequest("invalid JSON body: "+err.Error()))
		return
	}

	handler, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if handler.Deferred != nil {
		resp, err := AwaitDeferred(handler.Deferred)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeResponse(w, resp)
		return
	}

	s.writeResponse(w, handler.Immediate)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		resp = &Response{}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Errorf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_SERVER_ERROR"
	if e, ok := err.(*errs.Error); ok {
		status = e.HTTPStatus()
		code = e.ErrorCode()
	}
	s.log.Errorf("request failed: %v", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Message:   err.Error(),
		ErrorCode: code,
	})
}
