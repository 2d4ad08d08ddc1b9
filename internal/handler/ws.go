package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dispatch/internal/domain"
	"dispatch/internal/gateway"
	"dispatch/internal/service"
)

// WSHandler upgrades rider and driver connections and feeds inbound driver
// events into the dispatch service.
type WSHandler struct {
	hub             *gateway.Hub
	dispatchService *service.DispatchService
	upgrader        websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *gateway.Hub, dispatchService *service.DispatchService) *WSHandler {
	return &WSHandler{
		hub:             hub,
		dispatchService: dispatchService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// inboundMessage is the frame drivers send over their socket.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type locationReport struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	ReportedAt string  `json:"reported_at,omitempty"`
}

type offerAnswer struct {
	RideID string `json:"ride_id"`
	Accept bool   `json:"accept"`
}

// RiderSocket handles GET /v1/ws/riders/:id. Rider sockets are push-only;
// inbound frames are drained and discarded.
func (h *WSHandler) RiderSocket(c *gin.Context) {
	riderID := c.Param("id")
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h.hub.Add(riderID, conn)

	go func() {
		defer func() {
			h.hub.Remove(riderID, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// DriverSocket handles GET /v1/ws/drivers/:id. The read loop accepts
// location reports and offer answers; a dropped connection triggers the
// disconnect flow.
func (h *WSHandler) DriverSocket(c *gin.Context) {
	driverID := c.Param("id")

	if err := h.dispatchService.HandleDriverConnect(driverID); err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h.hub.Add(driverID, conn)

	go h.driverReadLoop(driverID, conn)
}

func (h *WSHandler) driverReadLoop(driverID string, conn *websocket.Conn) {
	ctx := context.Background()
	defer func() {
		h.hub.Remove(driverID, conn)
		_ = conn.Close()
		h.dispatchService.HandleDriverDisconnect(ctx, driverID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("ws: bad frame from driver %s: %v", driverID, err)
			continue
		}

		switch msg.Event {
		case gateway.EventDriverLocation:
			var report locationReport
			if err := json.Unmarshal(msg.Data, &report); err != nil {
				continue
			}
			ts := time.Now()
			if report.ReportedAt != "" {
				if parsed, err := time.Parse(time.RFC3339, report.ReportedAt); err == nil {
					ts = parsed
				}
			}
			coord := domain.Coordinate{Lat: report.Lat, Lng: report.Lng}
			if err := h.dispatchService.RelayDriverLocation(ctx, driverID, coord, ts); err != nil {
				log.Printf("ws: location report from driver %s rejected: %v", driverID, err)
			}

		case gateway.EventRideOffer:
			var answer offerAnswer
			if err := json.Unmarshal(msg.Data, &answer); err != nil {
				continue
			}
			if err := h.dispatchService.HandleOfferResponse(ctx, answer.RideID, driverID, answer.Accept); err != nil {
				log.Printf("ws: offer answer from driver %s rejected: %v", driverID, err)
			}
		}
	}
}
