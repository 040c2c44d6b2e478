package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"concierge/internal/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the staff console origin once it is deployed
		return true
	},
}

func (d Dependencies) wsHandler(w http.ResponseWriter, r *http.Request) {
	if d.Hub == nil {
		d.Log.Error("WebSocket hub not initialized")
		http.Error(w, "WebSocket hub not initialized", http.StatusInternalServerError)
		return
	}

	userID := d.extractWSUserID(r)
	if userID == "" {
		userID = "anonymous"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	d.Log.Info("WebSocket connected",
		zap.String("remote", r.RemoteAddr),
		zap.String("user_id", userID))

	wsConn := ws.NewConn(conn, d.Hub, userID)
	d.Hub.Register(wsConn)

	go wsConn.WritePump()
	go wsConn.ReadPump()
}

func (d Dependencies) extractWSUserID(r *http.Request) string {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		tokenString = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	if tokenString != "" {
		secret := d.JWTSecret
		if secret == "" {
			secret = "default-secret-key-change-in-production"
		}
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err == nil && token.Valid {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if sub, ok := claims["sub"].(string); ok && sub != "" {
					return sub
				}
			}
		}
	}

	return r.Header.Get("X-Actor-ID")
}
