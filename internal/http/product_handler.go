package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	CreateCategory(ctx context.Context, name string) (int64, error)
	CreateProduct(ctx context.Context, p *domain.Product) (int64, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error
}

type ProductHandler struct {
	catalog Catalog
	timeout time.Duration
}

func NewProductHandler(catalog Catalog, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		timeout: timeout,
	}
}

type ProductsResponse struct {
	Products []*domain.Product `json:"products"`
}

type ProductRequestDTO struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url"`
	CategoryID  *int64          `json:"category_id"`
}

func (d ProductRequestDTO) toProduct() *domain.Product {
	return &domain.Product{
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Stock:       d.Stock,
		ImageURL:    d.ImageURL,
		CategoryID:  d.CategoryID,
	}
}

type CategoryRequestDTO struct {
	Name string `json:"name"`
}

type CreatedResponse struct {
	ID int64 `json:"id"`
}

// GET /api/v1/products?search=&category_id=
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	filter := domain.ProductFilter{Search: r.URL.Query().Get("search")}
	if c := r.URL.Query().Get("category_id"); c != "" {
		id, err := strconv.ParseInt(c, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_category_id", "category_id must be a positive integer")
			return
		}
		filter.CategoryID = id
	}

	products, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if products == nil {
		products = []*domain.Product{}
	}

	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products})
}

// GET /api/v1/products/{product_id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := idParam(w, r, "product_id")
	if !ok {
		return
	}

	p, err := h.catalog.GetProduct(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// GET /api/v1/categories
func (h *ProductHandler) Categories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	categories, err := h.catalog.ListCategories(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if categories == nil {
		categories = []*domain.Category{}
	}
	respondJSON(w, http.StatusOK, categories)
}

// POST /api/v1/admin/categories
func (h *ProductHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CategoryRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.catalog.CreateCategory(ctx, req.Name)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// POST /api/v1/admin/products
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ProductRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p := req.toProduct()
	if _, err := h.catalog.CreateProduct(ctx, p); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// PUT /api/v1/admin/products/{product_id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := idParam(w, r, "product_id")
	if !ok {
		return
	}
	var req ProductRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p := req.toProduct()
	p.ID = id
	if err := h.catalog.UpdateProduct(ctx, p); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// DELETE /api/v1/admin/products/{product_id}
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := idParam(w, r, "product_id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(ctx, id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
