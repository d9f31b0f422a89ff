package request

type RotateCertificate struct {
	Type  string `json:"type" validate:"required,oneof=self_signed letsencrypt_staging letsencrypt_production"`
	Force bool   `json:"force"`
}

type UploadCertificate struct {
	CertPEM  string `json:"cert_pem" validate:"required"`
	KeyPEM   string `json:"key_pem" validate:"required"`
	ChainPEM string `json:"chain_pem"`
}

type DeactivateCertificate struct {
	Type string `json:"type" validate:"required,oneof=self_signed letsencrypt_staging letsencrypt_production manual"`
}
