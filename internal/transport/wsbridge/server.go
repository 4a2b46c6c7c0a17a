package wsbridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"tradecore/internal/codec"
	"tradecore/internal/model/enum"
	"tradecore/internal/transport"
)

// Server exposes a Transport to websocket clients. Each connection gets its
// own backend.
type Server struct {
	// Backend creates the transport serving one connection.
	Backend      func() transport.Transport
	WriteTimeout time.Duration

	upgrader websocket.Upgrader
}

// NewServer creates a server around backend.
func NewServer(backend func() transport.Transport) *Server {
	return &Server{
		Backend:      backend,
		WriteTimeout: DefaultWriteTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("wsbridge: upgrade %s, err: %+v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	backend := s.Backend()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer func() { _ = backend.Disconnect() }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.forward(ctx, conn, backend)
	}()

	if err := backend.Connect(ctx, r.RemoteAddr); err != nil {
		logs.Errorf("wsbridge: backend connect, err: %+v", err)
		return
	}
	logs.Infof("wsbridge: serving %s", r.RemoteAddr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		req, err := codec.DecodeRequest(msg)
		if err != nil {
			logs.Errorf("wsbridge: decode request from %s, err: %+v", r.RemoteAddr, err)
			continue
		}
		if err := backend.Send(ctx, req); err != nil {
			logs.Errorf("wsbridge: backend send %s, err: %+v", req.RequestKind(), err)
			break
		}
	}

	_ = backend.Disconnect()
	wg.Wait()
}

// forward writes backend events until the backend closes its stream. A
// disconnect notice from the backend ends the connection instead of being
// relayed, since the client synthesizes its own.
func (s *Server) forward(ctx context.Context, conn *websocket.Conn, backend transport.Transport) {
	defer func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.WriteTimeout))
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-backend.Events():
			if !ok || ev.EventKind() == enum.EventDisconnected {
				return
			}
			payload, err := codec.EncodeEvent(ev)
			if err != nil {
				logs.Errorf("wsbridge: encode %s, err: %+v", ev.EventKind(), err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logs.Errorf("wsbridge: write %s, err: %+v", ev.EventKind(), err)
				return
			}
		}
	}
}
