package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"estimateur/server/config"
	"estimateur/server/internal/dvf"
	"estimateur/server/internal/geocoding"
	"estimateur/server/internal/geometry"
	"estimateur/server/internal/market"
	"estimateur/server/internal/models"
	"estimateur/server/internal/report"
	"estimateur/server/internal/valuation"
	"estimateur/server/internal/workflow"
)

// Estimator runs the estimation workflow
type Estimator interface {
	Analyze(ctx context.Context, inseeCode string, opts market.Options) (*models.MarketStatistics, error)
	EstimateWith(ctx context.Context, property models.Property, opts workflow.Options) (*workflow.Report, error)
	Transactions(ctx context.Context, inseeCode string) ([]models.Transaction, error)
	Defaults() workflow.Options
}

// EstimateStore keeps the history of computed estimates
type EstimateStore interface {
	SaveEstimate(ctx context.Context, property models.Property, estimate models.Estimate, transactionCount int) (string, error)
	GetRecentEstimates(ctx context.Context, limit int, inseeCode string) ([]models.EstimateRecord, error)
}

// CommuneResolver turns a city name or INSEE code into a commune
type CommuneResolver interface {
	Resolve(ctx context.Context, query string) (*models.Commune, error)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	logger    *logrus.Logger
	estimator Estimator
	store     EstimateStore
	resolver  CommuneResolver
	communes  *config.CommuneDirectory
}

type EstimateRequest struct {
	InseeCode  string  `json:"insee_code"`
	City       string  `json:"city"`
	LivingArea float64 `json:"living_area" binding:"required,gt=0"`
	NumRooms   int     `json:"num_rooms" binding:"gte=0"`
	Standing   string  `json:"standing" binding:"required"`
	Trim       *bool   `json:"trim"`
	Basis      string  `json:"basis"`
}

type EstimateResponse struct {
	ID string `json:"id,omitempty"`
	*workflow.Report
}

func NewHandler(logger *logrus.Logger, estimator Estimator, store EstimateStore, resolver CommuneResolver, communes *config.CommuneDirectory) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if communes == nil {
		communes = config.NewCommuneDirectory(config.DefaultCommunes())
	}

	return &Handler{
		logger:    logger,
		estimator: estimator,
		store:     store,
		resolver:  resolver,
		communes:  communes,
	}
}

func (h *Handler) GetCommunes(c *gin.Context) {
	c.JSON(http.StatusOK, h.communes.All())
}

func (h *Handler) ResolveCommune(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter q is required"})
		return
	}

	commune, err := h.resolver.Resolve(c.Request.Context(), query)
	if errors.Is(err, geocoding.ErrCommuneNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Commune not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("query", query).Error("Failed to resolve commune")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to resolve commune"})
		return
	}

	c.JSON(http.StatusOK, commune)
}

func (h *Handler) GetMarket(c *gin.Context) {
	inseeCode := c.Param("insee")
	if !geocoding.IsInseeCode(inseeCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid INSEE code"})
		return
	}
	opts, err := h.analysisOptions(c.Query("trim"), c.Query("lower"), c.Query("upper"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.estimator.Analyze(c.Request.Context(), inseeCode, opts)
	if err != nil {
		h.writeRunError(c, inseeCode, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetMarketGeoJSON(c *gin.Context) {
	inseeCode := c.Param("insee")
	if !geocoding.IsInseeCode(inseeCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid INSEE code"})
		return
	}

	records, err := h.estimator.Transactions(c.Request.Context(), inseeCode)
	if err != nil {
		h.writeRunError(c, inseeCode, err)
		return
	}

	fc, err := geometry.Footprint(inseeCode, records)
	if errors.Is(err, geometry.ErrNoLocations) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Aucune transaction géolocalisée pour cette commune"})
		return
	}
	if err != nil {
		h.writeRunError(c, inseeCode, err)
		return
	}

	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) PostEstimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	standing, err := models.ParseStanding(req.Standing)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := h.estimator.Defaults()
	if req.Trim != nil {
		opts.Analysis.TrimOutliers = *req.Trim
	}
	if req.Basis != "" {
		if opts.Basis, err = valuation.ParseBasis(req.Basis); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	property := models.Property{
		InseeCode:  strings.TrimSpace(req.InseeCode),
		City:       strings.TrimSpace(req.City),
		LivingArea: req.LivingArea,
		NumRooms:   req.NumRooms,
		Standing:   standing,
	}
	if property.InseeCode != "" && !geocoding.IsInseeCode(property.InseeCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid INSEE code"})
		return
	}
	if property.InseeCode == "" {
		if property.City == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "insee_code or city is required"})
			return
		}
		commune, err := h.resolver.Resolve(c.Request.Context(), property.City)
		if errors.Is(err, geocoding.ErrCommuneNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Commune not found"})
			return
		}
		if err != nil {
			h.logger.WithError(err).WithField("city", property.City).Error("Failed to resolve city")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to resolve commune"})
			return
		}
		property.InseeCode = commune.Code
		property.City = commune.Name
	}

	result, err := h.estimator.EstimateWith(c.Request.Context(), property, opts)
	if err != nil {
		h.writeRunError(c, property.InseeCode, err)
		return
	}

	resp := EstimateResponse{Report: result}
	if h.store != nil {
		id, err := h.store.SaveEstimate(c.Request.Context(), result.Property, *result.Estimate, result.Stats.TransactionCount)
		if err != nil {
			h.logger.WithError(err).Error("Failed to save estimate")
		}
		resp.ID = id
	}

	if c.Query("format") == "xlsx" {
		h.writeWorkbook(c, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeWorkbook(c *gin.Context, resp EstimateResponse) {
	var buf bytes.Buffer
	if err := report.WriteWorkbook(resp.Report, &buf); err != nil {
		h.logger.WithError(err).Error("Failed to build workbook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build workbook"})
		return
	}

	if resp.ID != "" {
		c.Header("X-Estimate-ID", resp.ID)
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="estimation-%s.xlsx"`, resp.Property.InseeCode))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *Handler) GetEstimates(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if h.store == nil {
		c.JSON(http.StatusOK, []models.EstimateRecord{})
		return
	}

	records, err := h.store.GetRecentEstimates(c.Request.Context(), limit, c.Query("insee"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to get estimates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get estimates"})
		return
	}

	c.JSON(http.StatusOK, records)
}

func (h *Handler) analysisOptions(trim, lower, upper string) (market.Options, error) {
	opts := h.estimator.Defaults().Analysis
	if trim != "" {
		v, err := strconv.ParseBool(trim)
		if err != nil {
			return opts, errors.New("trim must be a boolean")
		}
		opts.TrimOutliers = v
	}
	if lower != "" {
		v, err := strconv.ParseFloat(lower, 64)
		if err != nil || v < 0 || v >= 1 {
			return opts, errors.New("lower must be a quantile in [0, 1)")
		}
		opts.LowerQuantile = v
	}
	if upper != "" {
		v, err := strconv.ParseFloat(upper, 64)
		if err != nil || v <= 0 || v > 1 {
			return opts, errors.New("upper must be a quantile in (0, 1]")
		}
		opts.UpperQuantile = v
	}
	if opts.LowerQuantile != 0 && opts.UpperQuantile != 0 && opts.LowerQuantile >= opts.UpperQuantile {
		return opts, errors.New("lower must be below upper")
	}
	return opts, nil
}

func (h *Handler) writeRunError(c *gin.Context, inseeCode string, err error) {
	if ue, ok := dvf.IsUnavailable(err); ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ue.Reason})
		return
	}
	if errors.Is(err, market.ErrNoData) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Aucune donnée exploitable pour cette commune"})
		return
	}

	h.logger.WithError(err).WithField("insee_code", inseeCode).Error("Estimation failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Estimation failed"})
}
