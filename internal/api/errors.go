package api

import (
	"net/http"

	"fieldnotes/internal/services"
)

// statusClientClosedRequest is the de facto status for requests the client
// abandoned.
const statusClientClosedRequest = 499

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	switch services.Kind(err) {
	case "":
		return http.StatusOK
	case services.KindFileFormat:
		return http.StatusUnprocessableEntity
	case services.KindAnalysis:
		return http.StatusBadGateway
	case services.KindStorage:
		return http.StatusInternalServerError
	case services.KindPersonaConflict:
		return http.StatusConflict
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
