package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/paideia-lms/Paideia-sub010/internal/handler"
	internalmiddleware "github.com/paideia-lms/Paideia-sub010/internal/middleware"
	"github.com/paideia-lms/Paideia-sub010/internal/service"
	"github.com/paideia-lms/Paideia-sub010/pkg/config"
	"github.com/paideia-lms/Paideia-sub010/pkg/logger"
	corsmiddleware "github.com/paideia-lms/Paideia-sub010/pkg/middleware/cors"
	reqidmiddleware "github.com/paideia-lms/Paideia-sub010/pkg/middleware/requestid"
)

type routerDeps struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *service.MetricsService
	tokens     internalmiddleware.TokenValidator
	gradebooks *handler.GradebookHandler
	grades     *handler.GradeHandler
	reports    *handler.ReportHandler
	probes     *handler.MetricsHandler
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.logger))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: d.cfg.CORS.AllowedOrigins, MaxAge: d.cfg.CORS.MaxAge}))
	r.Use(internalmiddleware.Metrics(d.metrics))

	r.GET("/health", d.probes.Health)
	r.GET("/ready", d.probes.Ready)
	r.GET("/metrics", d.probes.Prometheus)
	if d.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(d.cfg.APIPrefix)
	if d.cfg.Exports.Enabled {
		// Download links carry their own signature and are opened without a bearer token.
		api.GET("/exports/:token", d.reports.Download)
	}

	auth := internalmiddleware.OptionalJWT(d.tokens)
	if d.cfg.JWT.Required {
		auth = internalmiddleware.JWT(d.tokens)
	}
	secured := api.Group("")
	secured.Use(auth)

	secured.POST("/gradebooks", d.gradebooks.Create)
	secured.GET("/courses/:courseId/gradebook", d.gradebooks.GetByCourse)

	gradebooks := secured.Group("/gradebooks/:id")
	gradebooks.GET("", d.gradebooks.Get)
	gradebooks.DELETE("", d.gradebooks.Delete)
	gradebooks.POST("/hierarchy", d.gradebooks.Mutate)
	gradebooks.POST("/categories", d.gradebooks.CreateCategory)
	gradebooks.PUT("/categories/:categoryId", d.gradebooks.UpdateCategory)
	gradebooks.DELETE("/categories/:categoryId", d.gradebooks.DeleteCategory)
	gradebooks.POST("/items", d.gradebooks.CreateItem)
	gradebooks.PUT("/items/:itemId", d.gradebooks.UpdateItem)
	gradebooks.DELETE("/items/:itemId", d.gradebooks.DeleteItem)
	gradebooks.PUT("/order", d.gradebooks.Reorder)
	gradebooks.GET("/enrollments/:enrollmentId/grades", d.grades.ListForEnrollment)
	gradebooks.GET("/enrollments/:enrollmentId/final-grade", d.reports.FinalGrade)
	gradebooks.GET("/report", d.reports.Roster)
	if d.cfg.Exports.Enabled {
		gradebooks.POST("/exports", d.reports.Export)
	}

	grades := secured.Group("/grades")
	grades.POST("", d.grades.Record)
	grades.POST("/release", d.grades.Release)
	grades.GET("/:id", d.grades.Get)
	grades.PUT("/:id", d.grades.Update)
	grades.DELETE("/:id", d.grades.Delete)
	grades.POST("/:id/adjustments", d.grades.AddAdjustment)
	grades.POST("/:id/adjustments/:adjustmentId/toggle", d.grades.ToggleAdjustment)
	grades.DELETE("/:id/adjustments/:adjustmentId", d.grades.RemoveAdjustment)

	return r
}
