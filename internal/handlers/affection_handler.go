package handlers

import (
	"errors"
	"net/http"

	apierrors "github.com/dnogares/web-sub001/internal/errors"
	"github.com/dnogares/web-sub001/internal/middleware"
	"github.com/dnogares/web-sub001/internal/models"
	"github.com/dnogares/web-sub001/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// AffectionHandler handles affection analysis and layer catalog requests.
type AffectionHandler struct {
	service services.AffectionService
}

// NewAffectionHandler creates a new AffectionHandler instance.
func NewAffectionHandler(service services.AffectionService) *AffectionHandler {
	return &AffectionHandler{
		service: service,
	}
}

// Analyze handles POST /api/v1/affections.
// It crosses the submitted parcel against every layer and returns the stored
// report. A partial report is still a 200.
func (h *AffectionHandler) Analyze(c *gin.Context) {
	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Processing affection analysis", map[string]interface{}{
			"parcel_id": req.ParcelID,
			"srid":      req.SRID,
		})
	}

	report, err := h.service.Analyze(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidParcelID):
			apierrors.BadRequest(c, "Parcel id is empty or too long", nil)
		case errors.Is(err, services.ErrEmptyParcel):
			apierrors.EmptyParcelGeometry(c, "Parcel geometry is empty")
		case errors.Is(err, services.ErrInvalidGeometry):
			apierrors.InvalidGeometry(c, err.Error())
		default:
			apierrors.InternalServerError(c, "Failed to analyze parcel", err)
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetReport handles GET /api/v1/affections/:parcel_id.
func (h *AffectionHandler) GetReport(c *gin.Context) {
	parcelID := c.Param("parcel_id")

	report, err := h.service.GetReport(c.Request.Context(), parcelID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidParcelID):
			apierrors.BadRequest(c, "Invalid parcel id", nil)
		case errors.Is(err, services.ErrReportNotFound):
			apierrors.NotFound(c, "No report stored for this parcel")
		default:
			apierrors.InternalServerError(c, "Failed to load report", err)
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

// Layers handles GET /api/v1/layers.
// It lists which dataset each category resolved to.
func (h *AffectionHandler) Layers(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Catalog())
}
