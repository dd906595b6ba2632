package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type linkResponse struct {
	ReferralURL string `json:"referral_url"`
}

// ReferralHandler serves /api/ref, /api/ref/check and /api/ref/split.
type ReferralHandler struct {
	responder
	referrals ReferralService
}

func NewReferralHandler(referrals ReferralService, metrics ErrorRecorder, logger *zap.Logger) *ReferralHandler {
	return &ReferralHandler{
		responder: responder{metrics: metrics, logger: logger},
		referrals: referrals,
	}
}

func (h *ReferralHandler) HandleCreate(c *gin.Context) {
	link, err := h.referrals.CreateLink(c.Query("eventID"), c.Query("publicKey"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, linkResponse{ReferralURL: link})
}

// HandleCheck returns the verification report with 200 when the link is
// authentic and 400 otherwise.
func (h *ReferralHandler) HandleCheck(c *gin.Context) {
	report := h.referrals.ValidateLink(c.Query("eventID"), c.Query("publicKey"), c.Query("signature"))
	if !report.Valid {
		c.JSON(http.StatusBadRequest, report)
		return
	}
	h.respondOK(c, report)
}

func (h *ReferralHandler) HandleCreateSplit(c *gin.Context) {
	link, err := h.referrals.CreateSplitLink(c.Query("address1"), c.Query("address2"), c.Query("price"), c.Query("split"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, linkResponse{ReferralURL: link})
}
