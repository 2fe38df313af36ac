package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/communes", handler.GetCommunes)
		api.GET("/communes/resolve", handler.ResolveCommune)
		api.GET("/market/:insee", handler.GetMarket)
		api.GET("/market/:insee/geojson", handler.GetMarketGeoJSON)
		api.POST("/estimate", handler.PostEstimate)
		api.GET("/estimates", handler.GetEstimates)
	}
}
