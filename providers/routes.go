package providers

import (
	"fmt"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/valyala/fasthttp"
)

// NewApp builds the HTTP surface. The realtime channel is not routed here
// since Fiber v3 does not expose *fasthttp.RequestCtx; see FastHTTPHandler.
func (p *RelayPlugin) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{AppName: p.Name()})
	p.RegisterRoutes(app)
	return app
}

// RegisterRoutes registers the submission, static, info and health routes.
func (p *RelayPlugin) RegisterRoutes(group fiber.Router) {
	group.Post("/notifications", p.handleSubmit)
	group.Get("/", p.handleIndex)
	group.Get("/static*", static.New(p.staticDir, static.Config{IndexNames: []string{"index.html"}}))
	group.Get("/ws/info", p.handleInfo)
	group.Get("/healthz", p.handleHealth)
}

func (p *RelayPlugin) handleSubmit(c fiber.Ctx) error {
	rec, err := p.service.Submit(c.Context(), c.FormValue("uid"), c.FormValue("msg"))
	if err != nil {
		return err
	}
	return c.SendString(fmt.Sprintf("message queued, ts: %d\n", rec.Envelope.TS))
}

func (p *RelayPlugin) handleIndex(c fiber.Ctx) error {
	return c.Redirect().Status(fiber.StatusFound).To("http://" + c.Hostname() + "/static/")
}

func (p *RelayPlugin) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket":   true,
		"endpoint":    p.cfg.ChannelPath,
		"clients":     p.hub.ClientCount(),
		"bound_users": p.hub.BoundUsers(),
		"bridge":      p.hub.BridgeAvailable(),
	})
}

func (p *RelayPlugin) handleHealth(c fiber.Ctx) error {
	if p.bridge == nil {
		return c.SendStatus(fiber.StatusServiceUnavailable)
	}
	h := p.bridge.Health()
	status := fiber.StatusOK
	if !h.OK() {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(h)
}

// FastHTTPHandler returns the root fasthttp handler: the realtime channel is
// upgraded directly and everything else goes to app.
func (p *RelayPlugin) FastHTTPHandler(app *fiber.App) fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  p.cfg.Socket.ReadBufferSize,
		WriteBufferSize: p.cfg.Socket.WriteBufferSize,
		CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
	}
	channel := p.cfg.ChannelPath
	appHandler := app.Handler()

	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != channel {
			appHandler(ctx)
			return
		}
		if !websocket.FastHTTPIsWebSocketUpgrade(ctx) {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		h := p.hub
		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := hub.NewClient(p.wrapConn(conn), h)
			h.Register(client)
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			p.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

func (p *RelayPlugin) wrapConn(conn *websocket.Conn) *fasthttpConn {
	wc := &fasthttpConn{
		conn:         conn,
		writeTimeout: time.Duration(p.cfg.Socket.WriteTimeout) * time.Second,
	}
	// Frames over max_message_size are dropped by the client; only a peer far
	// beyond it is cut off by the transport.
	if p.cfg.Socket.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(p.cfg.Socket.MaxMessageSize) * transportLimitFactor)
	}
	// A peer that misses two pings in a row is considered gone.
	if ping := time.Duration(p.cfg.Socket.PingInterval) * time.Second; ping > 0 {
		wait := 2 * ping
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	return wc
}

const transportLimitFactor = 64

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (f *fasthttpConn) ReadMessage() ([]byte, error) {
	_, data, err := f.conn.ReadMessage()
	return data, err
}

func (f *fasthttpConn) WriteMessage(data []byte) error {
	if f.writeTimeout > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *fasthttpConn) Ping() error {
	var deadline time.Time
	if f.writeTimeout > 0 {
		deadline = time.Now().Add(f.writeTimeout)
	}
	return f.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (f *fasthttpConn) RemoteAddr() string { return f.conn.RemoteAddr().String() }
func (f *fasthttpConn) Close() error       { return f.conn.Close() }
