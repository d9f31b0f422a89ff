package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/certkeeper/internal/api/request"
	"github.com/edvin/certkeeper/internal/api/response"
	"github.com/edvin/certkeeper/internal/core"
	"github.com/edvin/certkeeper/internal/generator"
	"github.com/edvin/certkeeper/internal/model"
	"github.com/edvin/certkeeper/internal/store"
)

type Certificate struct {
	svc *core.CertificateService
}

func NewCertificate(svc *core.CertificateService) *Certificate {
	return &Certificate{svc: svc}
}

// ListByDomain returns every tracked certificate for a domain, active or not.
func (h *Certificate) ListByDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := request.RequireDomain(chi.URLParam(r, "domain"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	certs, err := h.svc.ListByDomain(r.Context(), domain)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteList(w, http.StatusOK, certs)
}

func (h *Certificate) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cert, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.WriteError(w, http.StatusNotFound, "certificate not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, cert)
}

// ListExpiring returns active certificates inside the renewal margin.
func (h *Certificate) ListExpiring(w http.ResponseWriter, r *http.Request) {
	certs, err := h.svc.ListExpiring(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteList(w, http.StatusOK, certs)
}

// Rotate generates a certificate of the requested type for the domain. With
// force set, fresh material is issued even when the current certificate is
// still well inside the margin.
func (h *Certificate) Rotate(w http.ResponseWriter, r *http.Request) {
	domain, err := request.RequireDomain(chi.URLParam(r, "domain"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.RotateCertificate
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var result *generator.Result
	if req.Force {
		result, err = h.svc.ForceRenew(r.Context(), domain, req.Type)
	} else {
		result, err = h.svc.Rotate(r.Context(), domain, req.Type)
	}
	if err != nil {
		var genErr *generator.GenerationError
		if errors.As(err, &genErr) {
			response.WriteError(w, http.StatusBadGateway, genErr.Error())
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusCreated, result)
}

// Upload registers operator-supplied PEM material as a manual certificate.
func (h *Certificate) Upload(w http.ResponseWriter, r *http.Request) {
	domain, err := request.RequireDomain(chi.URLParam(r, "domain"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UploadCertificate
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cert, err := h.svc.UploadManual(r.Context(), domain, []byte(req.CertPEM), []byte(req.KeyPEM), []byte(req.ChainPEM))
	if err != nil {
		var genErr *generator.GenerationError
		if errors.As(err, &genErr) && genErr.Stage != "store" {
			response.WriteError(w, http.StatusBadRequest, genErr.Error())
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusCreated, cert)
}

// Deactivate retires the active certificate of the given type for a domain.
func (h *Certificate) Deactivate(w http.ResponseWriter, r *http.Request) {
	domain, err := request.RequireDomain(chi.URLParam(r, "domain"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	certType := chi.URLParam(r, "type")
	if !model.ValidCertType(certType) {
		response.WriteError(w, http.StatusBadRequest, "unknown certificate type")
		return
	}

	if err := h.svc.Deactivate(r.Context(), domain, certType); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.WriteError(w, http.StatusNotFound, "no active certificate of that type")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events returns the most recent change events for a domain, newest first.
func (h *Certificate) Events(w http.ResponseWriter, r *http.Request) {
	domain, err := request.RequireDomain(chi.URLParam(r, "domain"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := request.QueryInt(r, "limit", 100)
	events, err := h.svc.Events(r.Context(), domain, limit)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteList(w, http.StatusOK, events)
}
