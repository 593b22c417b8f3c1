package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/models"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates a bearer token when present and installs the
// authenticated party identity (id, role, approval status) into the request
// context. Requests without a token pass through anonymous; route guards
// decide what needs identity.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		ctx = utils.SetPartyIdInContext(ctx, claim.ID)
		ctx = utils.SetPartyRoleInContext(ctx, claim.Role)
		ctx = utils.SetApprovalStatusInContext(ctx, claim.Approval)
		ctx = utils.SetIsAdminInContext(ctx, claim.Role == string(models.PartyRoleAdmin))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetPartyIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects everyone but admins.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireApproved rejects parties whose registration is still pending or was
// rejected. Admins pass.
func RequireApproved() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if isAdmin, _ := utils.GetIsAdminFromContext(ctx); isAdmin {
			c.Next()
			return
		}
		status, ok := utils.GetApprovalStatusFromContext(ctx)
		if !ok || status != string(models.ApprovalStatusApproved) {
			c.JSON(http.StatusForbidden, gin.H{"error": "account is not approved"})
			c.Abort()
			return
		}
		c.Next()
	}
}
