package handlers

import (
	"encoding/json"
	"net/http"

	httperrors "github.com/mythcraft/api/internal/transport/http/errors"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, message, details string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.ErrorResponse{Error: message, Details: details})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeForbidden(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusForbidden, httperrors.APIError{Code: code, Message: message})
}

func writeUnavailable(w http.ResponseWriter, message string) {
	httperrors.Write(w, http.StatusServiceUnavailable, httperrors.ErrorResponse{Error: message})
}

func writeInternal(w http.ResponseWriter, details string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.ErrorResponse{Error: "internal error", Details: details})
}
