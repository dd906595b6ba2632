package api

import (
	"lnwall-gateway/internal/services/paywall"
	"lnwall-gateway/internal/services/referral"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Referral *ReferralHandler
	Split    *SplitHandler
	Encrypt  *EncryptHandler
	Paywall  *PaywallHandler
	Health   *HealthHandler
}

// Register mounts every public route on r.
func Register(r gin.IRoutes, h Handlers) {
	r.GET("/healthz", h.Health.HandleHealth)

	r.GET("/api/ref", h.Referral.HandleCreate)
	r.GET(referral.CheckPath, h.Referral.HandleCheck)
	r.GET("/api/ref/split", h.Referral.HandleCreateSplit)

	r.GET(referral.SplitPath, h.Split.HandleCreate)
	r.GET(SplitStatusPath, h.Split.HandleStatus)
	r.GET(SplitAwaitPath, h.Split.HandleAwait)

	r.GET("/api/encrypt", h.Encrypt.HandleEncrypt)

	r.GET("/api/paywall", h.Paywall.HandleOffer)
	r.GET(paywall.InvoicePath, h.Paywall.HandleInvoice)
	r.GET(paywall.ReleasePath, h.Paywall.HandleRelease)
}
