package api

import (
	"context"
	"errors"
	"net/url"

	"lnwall-gateway/internal/services/settlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	SplitStatusPath = "/api/split/status"
	SplitAwaitPath  = "/api/split/await"

	// statusClientClosedRequest is written for long-polls the caller gave up on.
	statusClientClosedRequest = 499
)

type splitResponse struct {
	*settlement.SplitInvoices
	StatusURL string `json:"status_url"`
	AwaitURL  string `json:"await_url"`
}

// SplitHandler serves the split invoice endpoints. Prices arrive in whole
// sats and are converted to msats before splitting.
type SplitHandler struct {
	responder
	referrals        ReferralService
	coordinator      SettlementCoordinator
	baseURL          string
	requireSignature bool
}

func NewSplitHandler(referrals ReferralService, coordinator SettlementCoordinator, baseURL string, requireSignature bool, metrics ErrorRecorder, logger *zap.Logger) *SplitHandler {
	return &SplitHandler{
		responder:        responder{metrics: metrics, logger: logger},
		referrals:        referrals,
		coordinator:      coordinator,
		baseURL:          baseURL,
		requireSignature: requireSignature,
	}
}

// HandleCreate issues both invoices. A signature, when present or required,
// must match the split link that carried the terms.
func (h *SplitHandler) HandleCreate(c *gin.Context) {
	address1, address2 := c.Query("address1"), c.Query("address2")
	price, split := c.Query("price"), c.Query("split")
	signature := c.Query("signature")

	if h.requireSignature || signature != "" {
		if err := h.referrals.VerifySplitLink(address1, address2, price, split, signature); err != nil {
			h.respondError(c, err)
			return
		}
	}

	priceSats, percent, err := settlement.ParseSplitTerms(price, split)
	if err != nil {
		h.respondError(c, err)
		return
	}

	invoices, err := h.coordinator.CreateSplitInvoices(c.Request.Context(), address1, address2, priceSats*settlement.MsatPerSat, percent)
	if err != nil {
		h.respondError(c, err)
		return
	}

	q := url.Values{}
	q.Set("verify1", invoices.InvoiceA.VerifyURL)
	q.Set("verify2", invoices.InvoiceB.VerifyURL)
	q.Set("token", invoices.StatusToken)
	h.respondOK(c, splitResponse{
		SplitInvoices: invoices,
		StatusURL:     h.baseURL + SplitStatusPath + "?" + q.Encode(),
		AwaitURL:      h.baseURL + SplitAwaitPath + "?" + q.Encode(),
	})
}

func (h *SplitHandler) HandleStatus(c *gin.Context) {
	verifyA, verifyB, ok := h.verifiedHandles(c)
	if !ok {
		return
	}
	state, err := h.coordinator.CheckSettlement(c.Request.Context(), verifyA, verifyB)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, state)
}

// HandleAwait long-polls until joint settlement, the configured maximum wait,
// or client disconnect.
func (h *SplitHandler) HandleAwait(c *gin.Context) {
	verifyA, verifyB, ok := h.verifiedHandles(c)
	if !ok {
		return
	}
	state, err := h.coordinator.AwaitSettlement(c.Request.Context(), verifyA, verifyB)
	if errors.Is(err, context.Canceled) {
		h.logger.Debug("settlement await abandoned by client",
			zap.String("verify1", verifyA),
			zap.String("verify2", verifyB),
		)
		c.AbortWithStatus(statusClientClosedRequest)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, state)
}

func (h *SplitHandler) verifiedHandles(c *gin.Context) (string, string, bool) {
	verifyA, verifyB := c.Query("verify1"), c.Query("verify2")
	if err := h.coordinator.VerifyStatusToken(verifyA, verifyB, c.Query("token")); err != nil {
		h.respondError(c, err)
		return "", "", false
	}
	return verifyA, verifyB, true
}
