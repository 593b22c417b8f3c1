package main

import (
	"context"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/middlewares"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/models"
	"github.com/gin-gonic/gin"
)

func registerShipmentRoutes(r *gin.Engine) {
	chain := r.Group("/shipments", middlewares.RequireAuth(), middlewares.RequireApproved())

	chain.POST("", createShipmentHandler())
	chain.GET("/:id", getShipmentHandler())
	chain.POST("/:id/in-transit", shipmentActionHandler(models.MarkShipmentInTransit))
	chain.POST("/:id/accept", shipmentActionHandler(models.AcceptShipment))
	chain.POST("/:id/reject", shipmentActionHandler(models.RejectShipment))
}

func createShipmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewShipment
		if err := c.ShouldBindJSON(&input); err != nil {
			renderBindError(c, err)
			return
		}
		shipment, err := models.CreateShipment(c.Request.Context(), &input)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, shipment)
	}
}

func getShipmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		shipment, err := models.GetShipment(c.Request.Context(), id)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, shipment)
	}
}

func shipmentActionHandler(action func(ctx context.Context, shipmentId int) (*models.Shipment, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		shipment, err := action(c.Request.Context(), id)
		if err != nil {
			renderError(c, err)
			return
		}
		renderOK(c, shipment)
	}
}
