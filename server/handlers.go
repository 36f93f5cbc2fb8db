package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/forksim/forksim/simulation"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

const maxRequestSize = 16 * 1024 * 1024

// errorResponse is the body of every failed request.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var tx simulation.SimulationRequest
	if !decode(w, r, &tx) {
		return
	}
	res, err := s.backend.Simulate(r.Context(), &tx)
	s.respond(w, r, res, err)
}

func (s *Server) simulateBundle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var txs []*simulation.SimulationRequest
	if !decode(w, r, &txs) {
		return
	}
	res, err := s.backend.SimulateBundle(r.Context(), txs)
	s.respond(w, r, res, err)
}

func (s *Server) statefulBegin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req simulation.StatefulSimulationRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.backend.StatefulBegin(r.Context(), &req)
	s.respond(w, r, res, err)
}

func (s *Server) statefulContinue(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.respond(w, r, nil, simulation.ErrSessionNotFound)
		return
	}
	var txs []*simulation.SimulationRequest
	if !decode(w, r, &txs) {
		return
	}
	res, err := s.backend.StatefulContinue(r.Context(), id, txs)
	s.respond(w, r, res, err)
}

func (s *Server) statefulEnd(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.respond(w, r, nil, simulation.ErrSessionNotFound)
		return
	}
	res, err := s.backend.StatefulEnd(r.Context(), id)
	s.respond(w, r, res, err)
}

// decode reads a JSON body into v, answering 400 when it is malformed.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err := dec.Decode(v); err != nil {
		clientErrorMeter.Mark(1)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, v interface{}, err error) {
	if err != nil {
		code := simulation.ErrorCode(err)
		if code >= http.StatusInternalServerError {
			serverErrorMeter.Mark(1)
			s.log.Warn("Simulation failed", "path", r.URL.Path, "err", err)
		} else {
			clientErrorMeter.Mark(1)
			s.log.Debug("Simulation rejected", "path", r.URL.Path, "err", err)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, &errorResponse{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
