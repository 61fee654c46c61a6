package host

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/observability"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHTTPPath      = "/contracts"
	DefaultWebSocketPath = "/contracts/ws"
	MetaPath             = "/_meta"
)

// HTTPOptions configure the gin engine built by Handler.
type HTTPOptions struct {
	BasePath      string
	WebSocketPath string
	CORSOrigins   []string
	Limits        frame.Limits
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.BasePath == "" {
		o.BasePath = DefaultHTTPPath
	}
	o.BasePath = "/" + strings.Trim(o.BasePath, "/")
	if o.WebSocketPath == "" {
		o.WebSocketPath = DefaultWebSocketPath
	}
	if o.Limits.MaxPayloadBytes == 0 {
		o.Limits = frame.DefaultLimits()
	}
	return o
}

// Handler builds the HTTP surface: contract POST route, websocket route,
// health, metrics and the metadata JSON-RPC service.
func (h *Host) Handler(opts HTTPOptions) *gin.Engine {
	opts = opts.withDefaults()
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(h.name))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     normalizeOrigins(opts.CORSOrigins),
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", protocol.HeaderID},
		ExposeHeaders:    []string{protocol.HeaderID, protocol.HeaderMessage, protocol.HeaderZip},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"host":      h.name,
			"uptime":    time.Since(h.started).String(),
			"contracts": len(h.Services()),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST(MetaPath, gin.WrapH(h.MetaHandler()))
	r.GET(opts.WebSocketPath, func(c *gin.Context) {
		h.ServeWebSocket(c.Writer, c.Request, opts.Limits)
	})
	r.POST(opts.BasePath+"/:contract/:method", func(c *gin.Context) {
		h.serveHTTP(c)
	})
	return r
}

func (h *Host) serveHTTP(c *gin.Context) {
	name := c.Param("contract")
	identity, names := h.resolveHTTP(name, c.Param("method"))

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxHTTPBody)
	req, err := protocol.ReadHTTPRequest(h.codec, c.Request, names)
	if err != nil {
		failed := &protocol.ContractResponse{}
		if ck, cerr := c.Request.Cookie(protocol.SessionCookie); cerr == nil {
			failed.Session = ck.Value
		}
		h.writeHTTP(c.Writer, failed.Fail(err))
		return
	}
	req.Contract = name
	req.Method = identity
	h.writeHTTP(c.Writer, h.serve(c.Request.Context(), TransportHTTP, c.ClientIP(), req))
}

const maxHTTPBody = 64 << 20

// resolveHTTP accepts the method as an identity or a name. Unknown methods
// resolve to -1 so dispatch reports NotFound.
func (h *Host) resolveHTTP(contractName, method string) (int, []string) {
	svc, ok := h.lookup(contractName)
	if !ok {
		return -1, nil
	}
	var m *contract.Method
	if id, err := strconv.Atoi(method); err == nil {
		m, ok = svc.info.Method(id)
	} else {
		m, ok = svc.info.MethodByName(method)
	}
	if !ok {
		return -1, nil
	}
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name
	}
	return m.Identity, names
}

func (h *Host) writeHTTP(w gin.ResponseWriter, resp *protocol.ContractResponse) {
	err := protocol.WriteHTTPResponse(w, h.codec, resp)
	if err == nil || w.Written() {
		return
	}
	log.Warn().Err(err).Msg("encode http response")
	failed := &protocol.ContractResponse{ID: resp.ID, Session: resp.Session}
	failed.Fail(err)
	_ = protocol.WriteHTTPResponse(w, h.codec, failed)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
