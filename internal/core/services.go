package core

import (
	"time"

	"github.com/edvin/certkeeper/internal/generator"
	"github.com/edvin/certkeeper/internal/selector"
	"github.com/edvin/certkeeper/internal/store"
)

type Services struct {
	Certificate *CertificateService
	Integrity   *IntegrityService
}

func NewServices(st *store.Store, gen *generator.Generator, margin time.Duration) *Services {
	sel := selector.New(st, margin)
	return &Services{
		Certificate: NewCertificateService(st, sel, gen, margin),
		Integrity:   NewIntegrityService(st),
	}
}
