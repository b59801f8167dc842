package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"multiplayer-quiz-service/internal/app"
)

// NewRouter wires the REST API, the websocket endpoint and the health check.
func NewRouter(service *app.SessionService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	api := NewAPIHandler(service)
	sessions := router.Group("/sessions")
	{
		sessions.POST("", api.CreateSession)
		sessions.GET("", api.ListSessions)
		sessions.POST("/join", api.Join)
		sessions.GET("/:id", api.Snapshot)
		sessions.GET("/:id/question", api.CurrentQuestion)
		sessions.POST("/:id/start", api.Start)
		sessions.POST("/:id/answers", api.SubmitAnswer)
		sessions.POST("/:id/advance", api.Advance)
		sessions.DELETE("/:id", api.Terminate)
	}

	ws := NewWSHandler(service)
	router.GET("/ws", gin.WrapF(ws.ServeWS))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}
