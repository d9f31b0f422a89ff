package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/certkeeper/internal/api/request"
	"github.com/edvin/certkeeper/internal/api/response"
	"github.com/edvin/certkeeper/internal/core"
)

type Status struct {
	certs     *core.CertificateService
	integrity *core.IntegrityService
}

func NewStatus(certs *core.CertificateService, integrity *core.IntegrityService) *Status {
	return &Status{certs: certs, integrity: integrity}
}

// Domain answers the operator status question for one domain.
func (h *Status) Domain(w http.ResponseWriter, r *http.Request) {
	domain, err := request.RequireDomain(chi.URLParam(r, "domain"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.certs.Status(r.Context(), domain)
	if err != nil {
		if errors.Is(err, core.ErrUnknownDomain) {
			response.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, status)
}

// All returns the status view for every domain with an active certificate.
func (h *Status) All(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.certs.StatusAll(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteList(w, http.StatusOK, statuses)
}

// Verify re-checksums every artifact of every active certificate and reports
// the files that drifted from their recorded state.
func (h *Status) Verify(w http.ResponseWriter, r *http.Request) {
	drifted, err := h.integrity.VerifyAll(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteList(w, http.StatusOK, drifted)
}
