package main

import (
	"strconv"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/middlewares"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/models"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/gin-gonic/gin"
)

func registerProvenanceRoutes(r *gin.Engine) {
	// Barcode verification is public: anyone may scan a pack.
	r.GET("/verify/:barcode", resolveBarcodeHandler())
	r.GET("/verify/:barcode/chain", traceChainHandler())

	chain := r.Group("", middlewares.RequireAuth(), middlewares.RequireApproved())
	chain.GET("/predict-shortage", predictShortageHandler())
}

func resolveBarcodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := models.ResolveBarcode(c.Request.Context(), c.Param("barcode"))
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, record)
	}
}

func traceChainHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := models.ResolveBarcode(c.Request.Context(), c.Param("barcode"))
		if err != nil {
			renderError(c, err)
			return
		}
		trace, err := models.TraceChain(c.Request.Context(), record)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, gin.H{"record": record, "chain": trace})
	}
}

func predictShortageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		holderRole := models.HolderRole(c.Query("holder_role"))
		holderId, err := strconv.Atoi(c.Query("holder_id"))
		if err != nil {
			renderError(c, utils.NewValidationError("holder_id is required"))
			return
		}
		horizonDays := 30
		if v := c.Query("horizon_days"); v != "" {
			horizonDays, err = strconv.Atoi(v)
			if err != nil {
				renderError(c, utils.NewValidationError("invalid horizon_days %q", v))
				return
			}
		}
		forecasts, err := models.PredictShortages(c.Request.Context(), holderRole, holderId, horizonDays)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, forecasts)
	}
}
