package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/service"
)

// ArticleHandler handles article listing and search endpoints.
type ArticleHandler struct {
	articles *service.ArticleService
}

// NewArticleHandler creates a new article handler.
func NewArticleHandler(articles *service.ArticleService) *ArticleHandler {
	return &ArticleHandler{articles: articles}
}

// List handles GET /api/v1/articles?page=&per_page=&search=&account=&category=.
func (h *ArticleHandler) List(c *gin.Context) {
	q := domain.ArticleQuery{
		Page:     queryInt(c, "page"),
		PerPage:  queryInt(c, "per_page"),
		Search:   c.Query("search"),
		Account:  c.Query("account"),
		Category: c.Query("category"),
	}
	resp, err := h.articles.ListArticles(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/v1/articles/lookup?url=.
func (h *ArticleHandler) Get(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'url' is required"})
		return
	}
	article, err := h.articles.GetArticle(c.Request.Context(), url)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}

// Search handles GET /api/v1/search?q=&page=&per_page=.
func (h *ArticleHandler) Search(c *gin.Context) {
	resp, err := h.articles.SearchArticles(c.Request.Context(), c.Query("q"), queryInt(c, "page"), queryInt(c, "per_page"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Categories handles GET /api/v1/categories.
func (h *ArticleHandler) Categories(c *gin.Context) {
	categories, err := h.articles.GetCategories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// Stats handles GET /api/v1/stats.
func (h *ArticleHandler) Stats(c *gin.Context) {
	stats, err := h.articles.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// queryInt reads an integer query parameter; invalid values read as zero
// and fall back to the service defaults.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
