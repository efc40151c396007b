package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/reporun/reporun/api/rest/server"
	v1 "github.com/reporun/reporun/api/rest/v1"
	"github.com/reporun/reporun/api/rest/v1/handlers"
	"github.com/reporun/reporun/api/rest/v1/middleware"
)

func runRoutes(server *server.Server, router gin.IRoutes) {
	runHandler := handlers.NewRunHandler(server)
	router.POST("/runs", v1.ErrorHandler(runHandler.StartRun))
	router.GET("/runs", v1.ErrorHandler(runHandler.ListRuns))
	router.GET("/runs/:id", middleware.RunIDValidator(), v1.ErrorHandler(runHandler.GetRun))
	router.POST("/runs/:id/stop", middleware.RunIDValidator(), v1.ErrorHandler(runHandler.StopRun))
	router.GET("/runs/:id/logs", middleware.RunIDValidator(), v1.ErrorHandler(runHandler.GetRunLogs))
}

func RegisterRoutes(server *server.Server) {
	apiv1 := server.Engine.Group("/api/v1")
	runRoutes(server, apiv1)
}
