package main

import (
	"context"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/middlewares"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/models"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/gin-gonic/gin"
)

func registerPartyRoutes(r *gin.Engine) {
	r.POST("/auth/register", registerHandler())
	r.POST("/auth/login", loginHandler())
	r.POST("/uploads/credentials", credentialUploadHandler())
	r.POST("/uploads/credentials/sign", credentialSignHandler())

	admin := r.Group("/admin", middlewares.RequireAuth(), middlewares.RequireAdmin())
	admin.GET("/parties/pending", pendingPartiesHandler())
	admin.POST("/parties/:id/approve", partyDecisionHandler(models.ApproveParty))
	admin.POST("/parties/:id/reject", partyDecisionHandler(models.RejectParty))
	admin.DELETE("/uploads/credentials", credentialDeleteHandler())
}

func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewParty
		if err := c.ShouldBindJSON(&input); err != nil {
			renderBindError(c, err)
			return
		}
		party, err := models.RegisterParty(c.Request.Context(), &input)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, party)
	}
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.NewValidationError("email and password are required"))
			return
		}
		info, err := models.Login(c.Request.Context(), input.Email, input.Password)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, info)
	}
}

func pendingPartiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		parties, err := models.GetPendingParties(c.Request.Context())
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, parties)
	}
}

func partyDecisionHandler(decide func(ctx context.Context, id int) (*models.Party, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		party, err := decide(c.Request.Context(), id)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, party)
	}
}

// credentialUploadHandler accepts a multipart form file and stores it in GCS
// so the register call can reference it.
func credentialUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
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

		response, err := models.UploadDocument(c.Request.Context(), fileHeader.Filename, file)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": response})
	}
}

// credentialDeleteHandler removes an orphaned credential upload from the
// bucket. Documents attached to a party record are refused.
func credentialDeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			DocumentUrl string `json:"document_url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			renderBindError(c, err)
			return
		}
		response, err := models.RemoveDocument(c.Request.Context(), input.DocumentUrl)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, response)
	}
}

// credentialSignHandler issues a short-lived signed PUT URL so large
// credential documents can go straight to the bucket instead of through us.
func credentialSignHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Filename    string `json:"filename" binding:"required"`
			ContentType string `json:"content_type" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.NewValidationError("filename and content_type are required"))
			return
		}

		objectKey := "credentials/" + utils.GenerateUniqueFilename() + "_" + input.Filename
		signed, err := utils.SignUpload(c.Request.Context(), objectKey, input.ContentType, 15*time.Minute)
		if err != nil {
			renderError(c, utils.NewExternalServiceError(err, "unable to sign upload"))
			return
		}
		renderOK(c, signed)
	}
}
