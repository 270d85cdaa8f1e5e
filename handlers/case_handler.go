package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"judgments-backend/logger"
	"judgments-backend/models"
	"judgments-backend/service"
	"judgments-backend/storage"

	"github.com/gin-gonic/gin"
)

// Resolver is implemented by service.CaseResolver
type Resolver interface {
	Resolve(ctx context.Context, req service.ResolveRequest) (*service.ResolveResponse, error)
}

// CaseLookup fetches a single stored record
type CaseLookup interface {
	GetByID(ctx context.Context, id string) (*models.CaseRecord, error)
}

// CaseHandler handles HTTP requests for judgment lookups
type CaseHandler struct {
	resolver Resolver
	cases    CaseLookup
	storage  storage.Storage
	log      logger.Logger
}

// NewCaseHandler creates a new case handler. documents may be nil when no document storage is configured.
func NewCaseHandler(resolver Resolver, cases CaseLookup, documents storage.Storage, log logger.Logger) *CaseHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &CaseHandler{
		resolver: resolver,
		cases:    cases,
		storage:  documents,
		log:      log,
	}
}

// ResolveCaseRequest represents the request body or query for a resolution
type ResolveCaseRequest struct {
	DiaryNumber  string `json:"diaryNumber" form:"diaryNumber"`
	Year         string `json:"year" form:"year"`
	Court        string `json:"court" form:"court"`
	JudgmentType string `json:"judgmentType" form:"judgmentType"`
	CaseType     string `json:"caseType" form:"caseType"`
	Bench        string `json:"bench" form:"bench"`
	City         string `json:"city" form:"city"`
	District     string `json:"district" form:"district"`
}

// RegisterRoutes mounts the case routes on an /api group
func (h *CaseHandler) RegisterRoutes(api *gin.RouterGroup) {
	cases := api.Group("/cases")
	{
		cases.POST("/resolve", h.ResolveCase)
		cases.GET("/resolve", h.ResolveCase)
		cases.GET("/:id/document", h.GetCaseDocument)
	}
}

// ResolveCase handles POST and GET /api/cases/resolve
func (h *CaseHandler) ResolveCase(c *gin.Context) {
	var req ResolveCaseRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	res, err := h.resolver.Resolve(c.Request.Context(), service.ResolveRequest{
		DiaryNumber:  req.DiaryNumber,
		Year:         req.Year,
		Court:        req.Court,
		JudgmentType: req.JudgmentType,
		CaseType:     req.CaseType,
		Bench:        req.Bench,
		City:         req.City,
		District:     req.District,
	})
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": ve.Message,
				"error": gin.H{
					"code":    "INVALID_INPUT",
					"field":   ve.Field,
					"message": ve.Message,
				},
			})
			return
		}

		h.log.Error("resolve failed", "diary_number", req.DiaryNumber, "year", req.Year, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Internal server error",
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(res.Status, res)
}

// GetCaseDocument handles GET /api/cases/:id/document
func (h *CaseHandler) GetCaseDocument(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.cases.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrCaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Case not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": err.Error(),
			},
		})
		return
	}

	if rec.FilePath == "" || h.storage == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DOCUMENT_NOT_STORED",
				"message": "No stored document for this case",
			},
		})
		return
	}

	reader, err := h.storage.Get(c.Request.Context(), rec.FilePath)
	if err != nil {
		status, code := http.StatusInternalServerError, "DOWNLOAD_FAILED"
		if errors.Is(err, storage.ErrNotFound) {
			status, code = http.StatusNotFound, "DOCUMENT_NOT_STORED"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": fmt.Sprintf("Failed to download document: %v", err),
			},
		})
		return
	}
	defer reader.Close()

	contentType := storage.ContentType(rec.FilePath)
	filename := fmt.Sprintf("%s%s", rec.ID, path.Ext(rec.FilePath))
	c.DataFromReader(http.StatusOK, -1, contentType, reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
	})
}

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /health
func Health(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := db.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
