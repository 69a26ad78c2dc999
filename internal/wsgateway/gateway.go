// Package wsgateway implements the WebSocket gateway adaptor (component
// G): accepting WebSocket connections, deciding each connection's
// info/stream role from its path, and pumping hub-routed messages to the
// socket.
package wsgateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/OE3ANC/m17web-proxy/internal/config"
	"github.com/OE3ANC/m17web-proxy/internal/hub"
	"github.com/OE3ANC/m17web-proxy/internal/reflector"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

const bufferSize = 1024

// Gateway is the gin-facing WebSocket upgrade handler.
type Gateway struct {
	hub        *hub.Hub
	wsUpgrader websocket.Upgrader
}

// New creates a gateway that checks Origin against cfg.CORSHosts.
func New(h *hub.Hub) *Gateway {
	return &Gateway{
		hub: h,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
			Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			},
			CheckOrigin: checkOrigin,
		},
	}
}

// corsMiddleware guards the plain HTTP surface (currently just /healthz)
// with the same allow-list as the WebSocket upgrade's CheckOrigin. It has
// no effect on the upgrade routes themselves: CheckOrigin is gorilla's own
// gate and runs independently during the handshake.
func corsMiddleware() gin.HandlerFunc {
	hosts := config.GetConfig().CORSHosts
	if len(hosts) == 0 {
		return cors.Default()
	}
	origins := make([]string, 0, len(hosts)*2)
	for _, h := range hosts {
		origins = append(origins, "https://"+h, "http://"+h)
	}
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet},
	})
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	hosts := config.GetConfig().CORSHosts
	if len(hosts) == 0 {
		return true
	}
	for _, host := range hosts {
		if strings.HasSuffix(host, ":443") && strings.HasPrefix(origin, "https://") {
			host = strings.TrimSuffix(host, ":443")
		}
		if strings.HasSuffix(host, ":80") && strings.HasPrefix(origin, "http://") {
			host = strings.TrimSuffix(host, ":80")
		}
		if strings.Contains(origin, host) {
			return true
		}
	}
	return false
}

// ApplyRoutes registers the info ("/") and stream ("/:reflector/:module")
// upgrade routes on r, per spec.md §4.7, plus a CORS-guarded liveness
// endpoint for load balancers/monitoring.
func (g *Gateway) ApplyRoutes(r *gin.Engine) {
	r.GET("/healthz", corsMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/", func(c *gin.Context) {
		g.handleInfo(c.Writer, c.Request)
	})
	r.GET("/:reflector/:module", func(c *gin.Context) {
		module := c.Param("module")
		if module == "" {
			c.Status(http.StatusNotFound)
			return
		}
		g.handleStream(c.Writer, c.Request, reflector.Key{
			Designator: strings.ToUpper(c.Param("reflector")),
			Module:     strings.ToUpper(module)[0],
		})
	})
}

func (g *Gateway) handleInfo(w http.ResponseWriter, r *http.Request) {
	conn, err := g.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Errorf("wsgateway: upgrade failed: %v", err)
		return
	}
	id := uuid.NewString()
	sub := g.hub.AddInfoSubscriber(id)
	g.pump(conn, sub, id, func([]byte) {
		// The hub rejects subscription changes from info subscribers with
		// a logged warning; the connection stays open.
		g.hub.ChangeSubscription(id, reflector.Key{})
	})
}

func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request, key reflector.Key) {
	conn, err := g.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Errorf("wsgateway: upgrade failed: %v", err)
		return
	}
	id := uuid.NewString()
	sub := g.hub.AddStreamSubscriber(id, key)
	g.pump(conn, sub, id, func(data []byte) {
		var change hub.SubscriptionChange
		if err := json.Unmarshal(data, &change); err != nil {
			klog.Warningf("wsgateway: malformed subscription-change message from %s: %v", id, err)
			return
		}
		if change.Module == "" {
			return
		}
		g.hub.ChangeSubscription(id, reflector.Key{
			Designator: strings.ToUpper(change.Reflector),
			Module:     strings.ToUpper(change.Module)[0],
		})
	})
}

// pump runs the read and write loops for one connection until either
// side fails, then removes the subscriber from the hub. onMessage, if
// non-nil, handles inbound client messages: stream subscribers apply
// subscription changes, and info subscribers hand each message to the
// hub's role check, which rejects it with a logged warning.
func (g *Gateway) pump(conn *websocket.Conn, sub *hub.Subscriber, id string, onMessage func([]byte)) {
	defer func() {
		g.hub.Remove(id)
		if err := conn.Close(); err != nil {
			klog.V(4).Infof("wsgateway: close error for %s: %v", id, err)
		}
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if onMessage != nil {
				onMessage(msg)
			}
		}
	}()

	for {
		select {
		case <-readDone:
			return
		case data, ok := <-sub.Send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				klog.V(2).Infof("wsgateway: write error for %s: %v", id, err)
				return
			}
		}
	}
}
