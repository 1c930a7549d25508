package httputil

import "github.com/gin-gonic/gin"

// IHttpHandler mounts one resource under Root on the public and admin groups.
type IHttpHandler interface {
	Root() string
	SetRoutes(pub *gin.RouterGroup, admin *gin.RouterGroup)
}
