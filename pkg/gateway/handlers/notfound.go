package handlers

import (
	"net/http"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeErrorJSON(w, r, &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: "not found",
		Code:    "not_found",
	}, http.StatusNotFound)
}
