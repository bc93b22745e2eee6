// Package gateway is the client edge: the persistent websocket channel for
// session control, and the per-room fan-out of event log messages to every
// connected participant and spectator.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/promptduel/promptduel/internal/duel/eventlog"
	"github.com/promptduel/promptduel/internal/duel/events"
)

// ConnectionManager tracks live connections per room and bridges each
// spectating connection onto the room's event log.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	roomLog  eventlog.Log
}

// NewConnectionManager creates a connection manager over the given log.
func NewConnectionManager(config ConnectionConfig, roomLog eventlog.Log) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		roomLog: roomLog,
	}
}

// Upgrade turns an HTTP request into a managed connection and starts its
// pumps. The handler is invoked for every inbound frame.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, handler func(*Connection, []byte)) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn := newConnection(ws, cm)

	go conn.writePump()
	go conn.readPump(handler)

	log.Info().Str("connection_id", conn.ID).Msg("websocket connection established")
	return conn, nil
}

// Spectate subscribes the connection to a room's log: a backfill of recent
// history followed by live messages, each forwarded as an event frame. A
// connection spectates at most one room; re-spectating moves it.
func (cm *ConnectionManager) Spectate(ctx context.Context, conn *Connection, roomCode string) error {
	sub, err := cm.roomLog.Subscribe(ctx, roomCode)
	if err != nil {
		return err
	}

	subCtx, cancel := context.WithCancel(ctx)

	conn.mu.Lock()
	if conn.cancelSub != nil {
		conn.cancelSub()
		cm.removeFromRoom(conn.roomCode, conn)
	}
	conn.roomCode = roomCode
	conn.cancelSub = cancel
	conn.mu.Unlock()

	cm.addToRoom(roomCode, conn)

	go func() {
		defer sub.Close()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				cm.forward(conn, msg)
			}
		}
	}()
	return nil
}

func (cm *ConnectionManager) forward(conn *Connection, msg events.GameMessage) {
	frame, err := json.Marshal(map[string]any{
		"type":    "event",
		"message": msg,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event frame")
		return
	}
	conn.send(frame)
}

func (cm *ConnectionManager) addToRoom(roomCode string, conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.roomConnections[roomCode] == nil {
		cm.roomConnections[roomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomCode][conn] = true
}

func (cm *ConnectionManager) removeFromRoom(roomCode string, conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conns, ok := cm.roomConnections[roomCode]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(cm.roomConnections, roomCode)
		}
	}
}

// unregister tears a connection down: subscription, room membership, send
// channel.
func (cm *ConnectionManager) unregister(conn *Connection) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	cancel := conn.cancelSub
	roomCode := conn.roomCode
	conn.cancelSub = nil
	close(conn.Send)
	conn.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if roomCode != "" {
		cm.removeFromRoom(roomCode, conn)
	}

	log.Info().Str("connection_id", conn.ID).Msg("connection unregistered")
}

// Stats reports live connection counts per room.
func (cm *ConnectionManager) Stats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	perRoom := make(map[string]int)
	for roomCode, conns := range cm.roomConnections {
		perRoom[roomCode] = len(conns)
		total += len(conns)
	}
	return map[string]any{
		"total_connections": total,
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  perRoom,
	}
}
