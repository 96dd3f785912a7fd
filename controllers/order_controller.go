package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-service/middlewares"
	"marketplace-service/models"
	"marketplace-service/services"
)

type OrderManager interface {
	UpdateStatus(ctx context.Context, orderID, newStatus string, actor services.Actor) (*models.Order, error)
	ListForUser(ctx context.Context, userID string) ([]models.Order, error)
	Get(ctx context.Context, orderID string, actor services.Actor) (*models.Order, error)
}

type OrderController struct {
	orders OrderManager
}

func NewOrderController(orders OrderManager) *OrderController {
	return &OrderController{orders: orders}
}

func (ctl *OrderController) GetUserOrders(c *gin.Context) {
	defer func() { middlewares.RecordOperation("order_list", succeeded(c)) }()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	orders, err := ctl.orders.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (ctl *OrderController) GetOrderDetails(c *gin.Context) {
	defer func() { middlewares.RecordOperation("order_details", succeeded(c)) }()
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	order, err := ctl.orders.Get(c.Request.Context(), c.Param("orderId"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (ctl *OrderController) UpdateOrderStatus(c *gin.Context) {
	defer func() { middlewares.RecordOperation("order_update_status", succeeded(c)) }()
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var request struct {
		NewStatus string `json:"newStatus" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := ctl.orders.UpdateStatus(c.Request.Context(), c.Param("orderId"), request.NewStatus, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": order})
}
