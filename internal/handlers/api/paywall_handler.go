package api

import (
	"lnwall-gateway/internal/services/paywall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaywallHandler serves the offer, invoice and release steps of the paywall.
type PaywallHandler struct {
	responder
	paywall PaywallService
}

func NewPaywallHandler(paywall PaywallService, metrics ErrorRecorder, logger *zap.Logger) *PaywallHandler {
	return &PaywallHandler{
		responder: responder{metrics: metrics, logger: logger},
		paywall:   paywall,
	}
}

func (h *PaywallHandler) HandleOffer(c *gin.Context) {
	offer, err := h.paywall.CreateOffer(paywall.OfferRequest{
		Address: c.Query("ln"),
		Price:   c.Query("price"),
		EventID: c.Query("id"),
		Content: c.Query("cn"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, offer)
}

func (h *PaywallHandler) HandleInvoice(c *gin.Context) {
	invoice, err := h.paywall.OpenOffer(c.Request.Context(), paywall.OfferLink{
		Address:    c.Query("ln"),
		Price:      c.Query("price"),
		EventID:    c.Query("id"),
		Version:    c.Query("version"),
		Ciphertext: c.Query("ct"),
		Signature:  c.Query("hmac"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, invoice)
}

// HandleRelease answers 402 until the invoice behind the link has settled.
func (h *PaywallHandler) HandleRelease(c *gin.Context) {
	release, err := h.paywall.Release(c.Request.Context(), paywall.ReleaseLink{
		VerifyURL:  c.Query("verifyURL"),
		Ciphertext: c.Query("ct"),
		EventID:    c.Query("id"),
		Version:    c.Query("version"),
		Signature:  c.Query("hmac"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, release)
}
