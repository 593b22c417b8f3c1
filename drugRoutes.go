package main

import (
	"context"
	"path/filepath"
	"strings"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/middlewares"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/models"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func registerDrugRoutes(r *gin.Engine) {
	chain := r.Group("", middlewares.RequireAuth(), middlewares.RequireApproved())

	chain.POST("/batches", createBatchHandler())
	chain.POST("/batches/import", importBatchesHandler())
	chain.POST("/transfers", transferHandler())
	chain.POST("/transfers/distributor-to-wholesaler", convenienceTransferHandler(models.TransferDistributorToWholesaler))
	chain.POST("/transfers/wholesaler-to-retailer", convenienceTransferHandler(models.TransferWholesalerToRetailer))
	chain.POST("/transfers/retailer-to-pharmacy", convenienceTransferHandler(models.TransferRetailerToPharmacy))
	chain.POST("/sales", recordSaleHandler())
	chain.GET("/dashboard", dashboardHandler())

	admin := r.Group("/admin", middlewares.RequireAuth(), middlewares.RequireAdmin())
	admin.POST("/recalls/batches/:id", recallBatchHandler())
	admin.POST("/recalls/units/:id", recallUnitHandler())
}

func createBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewDrugBatch
		if err := c.ShouldBindJSON(&input); err != nil {
			renderBindError(c, err)
			return
		}
		batch, err := models.CreateDrugBatch(c.Request.Context(), &input)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, batch)
	}
}

// importBatchesHandler ingests a CSV or XLSX file of batch rows. Row errors
// are collected per row; a bad row never aborts the rest of the file.
func importBatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		manufacturerId, ok := utils.GetPartyIdFromContext(c.Request.Context())
		if !ok {
			renderError(c, utils.NewValidationError("request identity is required"))
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			renderError(c, utils.NewValidationError("file is required"))
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			renderError(c, utils.NewValidationError("unreadable file"))
			return
		}
		defer file.Close()

		var result *models.ImportResult
		switch strings.ToLower(filepath.Ext(fileHeader.Filename)) {
		case ".csv":
			result, err = models.ImportBatchesCSV(c.Request.Context(), manufacturerId, file)
		case ".xlsx":
			result, err = models.ImportBatchesXLSX(c.Request.Context(), manufacturerId, file)
		default:
			renderError(c, utils.NewValidationError("unsupported file type %q, expected .csv or .xlsx", filepath.Ext(fileHeader.Filename)))
			return
		}
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, result)
	}
}

type transferRequest struct {
	UnitIds  []int             `json:"unit_ids" binding:"required"`
	FromRole models.HolderRole `json:"from_role" binding:"required"`
	FromId   int               `json:"from_id" binding:"required"`
	ToRole   models.HolderRole `json:"to_role" binding:"required"`
	ToId     int               `json:"to_id" binding:"required"`
}

func transferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			renderBindError(c, err)
			return
		}
		from, err := models.NewHolderRef(req.FromRole, req.FromId)
		if err != nil {
			renderError(c, err)
			return
		}
		to, err := models.NewHolderRef(req.ToRole, req.ToId)
		if err != nil {
			renderError(c, err)
			return
		}
		if err := models.TransferUnits(c.Request.Context(), req.UnitIds, from, to); err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, gin.H{"transferred": len(req.UnitIds)})
	}
}

type convenienceTransferRequest struct {
	UnitIds []int `json:"unit_ids" binding:"required"`
	FromId  int   `json:"from_id" binding:"required"`
	ToId    int   `json:"to_id" binding:"required"`
}

func convenienceTransferHandler(transfer func(ctx context.Context, unitIds []int, fromId, toId int) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req convenienceTransferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			renderBindError(c, err)
			return
		}
		if err := transfer(c.Request.Context(), req.UnitIds, req.FromId, req.ToId); err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, gin.H{"transferred": len(req.UnitIds)})
	}
}

func recordSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UnitBarcode string          `json:"unit_barcode" binding:"required,barcode"`
			PharmacyId  int             `json:"pharmacy_id" binding:"required"`
			Price       decimal.Decimal `json:"price"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			renderBindError(c, err)
			return
		}
		record, err := models.RecordSale(c.Request.Context(), req.UnitBarcode, req.PharmacyId, req.Price)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, record)
	}
}

func recallBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		count, err := models.RecallBatch(c.Request.Context(), id)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, gin.H{"recalled": count})
	}
}

func recallUnitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		count, err := models.RecallUnit(c.Request.Context(), id)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, gin.H{"recalled": count})
	}
}

func dashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		manufacturerId, ok := utils.GetPartyIdFromContext(c.Request.Context())
		if !ok {
			renderError(c, utils.NewValidationError("request identity is required"))
			return
		}
		dashboard, err := models.GetManufacturerDashboard(c.Request.Context(), manufacturerId)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, dashboard)
	}
}
