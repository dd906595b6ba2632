package api

import (
	"strconv"

	"lnwall-gateway/internal/services/keyderiv"
	"lnwall-gateway/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type EncryptHandler struct {
	responder
	encryption EncryptionService
}

func NewEncryptHandler(encryption EncryptionService, metrics ErrorRecorder, logger *zap.Logger) *EncryptHandler {
	return &EncryptHandler{
		responder:  responder{metrics: metrics, logger: logger},
		encryption: encryption,
	}
}

// HandleEncrypt dispatches on the action query parameter. Decrypt without a
// version uses the current key version.
func (h *EncryptHandler) HandleEncrypt(c *gin.Context) {
	id := c.Query("id")

	switch c.Query("action") {
	case "encrypt":
		result, err := h.encryption.Encrypt(id, c.Query("cn"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.respondOK(c, result)

	case "decrypt":
		version, err := parseVersion(c.Query("version"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		result, err := h.encryption.Decrypt(id, c.Query("encryptedCN"), c.Query("iv"), version)
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.respondOK(c, result)

	default:
		h.respondError(c, errors.NewValidationError("invalid action, use encrypt or decrypt"))
	}
}

func parseVersion(s string) (keyderiv.KeyVersion, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, errors.NewValidationError("version must be a positive integer")
	}
	return keyderiv.KeyVersion(v), nil
}
