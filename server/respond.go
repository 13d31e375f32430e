package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"authrax/pkg/authrax"
)

const maxBodyBytes = 5 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// writeError maps a classified error to its HTTP status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := authrax.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	} else {
		s.logger.Warn("Request rejected", "path", r.URL.Path, "status_code", status, "error", err)
	}
	s.writeJSON(w, status, errorBody{Error: errorDetail{Code: kind.String(), Message: msg}})
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func statusFor(kind authrax.Kind) int {
	switch kind {
	case authrax.Unauthenticated:
		return http.StatusUnauthorized
	case authrax.ConfigMissing:
		return http.StatusPreconditionFailed
	case authrax.InvalidArgument:
		return http.StatusBadRequest
	case authrax.NotFound:
		return http.StatusNotFound
	case authrax.MalformedResponse:
		return http.StatusUnprocessableEntity
	case authrax.UpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// readBody reads a request body up to maxBodyBytes.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, authrax.E(authrax.InvalidArgument, "server.read_body", err)
	}
	if len(body) > maxBodyBytes {
		return nil, authrax.Errorf(authrax.InvalidArgument, "server.read_body", "request body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

// decodeJSON decodes a JSON request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return authrax.Errorf(authrax.InvalidArgument, "server.decode", "invalid JSON at offset %d", syntaxErr.Offset)
		}
		return authrax.E(authrax.InvalidArgument, "server.decode", fmt.Errorf("decode body: %w", err))
	}
	return nil
}
