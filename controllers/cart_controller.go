package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-service/middlewares"
	"marketplace-service/models"
)

type CartManager interface {
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*models.Cart, error)
	ChangeQuantity(ctx context.Context, userID, productID string, delta int) (*models.Cart, error)
	Clear(ctx context.Context, userID string) (*models.Cart, error)
}

type CartController struct {
	carts CartManager
}

func NewCartController(carts CartManager) *CartController {
	return &CartController{carts: carts}
}

func (ctl *CartController) GetCart(c *gin.Context) {
	defer func() { middlewares.RecordOperation("cart_get", succeeded(c)) }()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	cart, err := ctl.carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

func (ctl *CartController) AddItem(c *gin.Context) {
	defer func() { middlewares.RecordOperation("cart_add", succeeded(c)) }()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var request struct {
		ProductID string `json:"productId" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart, err := ctl.carts.AddItem(c.Request.Context(), userID, request.ProductID, request.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product added to cart", "cart": cart})
}

func (ctl *CartController) Increment(c *gin.Context) {
	ctl.changeQuantity(c, "cart_increment", 1)
}

func (ctl *CartController) Decrement(c *gin.Context) {
	ctl.changeQuantity(c, "cart_decrement", -1)
}

func (ctl *CartController) changeQuantity(c *gin.Context, operation string, delta int) {
	defer func() { middlewares.RecordOperation(operation, succeeded(c)) }()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	cart, err := ctl.carts.ChangeQuantity(c.Request.Context(), userID, c.Param("productId"), delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

func (ctl *CartController) RemoveItem(c *gin.Context) {
	defer func() { middlewares.RecordOperation("cart_remove", succeeded(c)) }()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	cart, err := ctl.carts.RemoveItem(c.Request.Context(), userID, c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product removed from cart", "cart": cart})
}

func (ctl *CartController) Clear(c *gin.Context) {
	defer func() { middlewares.RecordOperation("cart_clear", succeeded(c)) }()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	cart, err := ctl.carts.Clear(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared", "cart": cart})
}
