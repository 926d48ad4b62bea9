// Package server wires HTTP handlers into a router for the relay.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// SetupRoutes returns a router that sends WebSocket upgrade requests on any
// path to the hub and serves page at GET /.
func SetupRoutes(hub *Hub, page http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.MatcherFunc(isUpgradeRequest).Handler(WebSocketHandler(hub))
	router.Methods(http.MethodGet).Path("/").Handler(page)

	return router
}

func isUpgradeRequest(r *http.Request, _ *mux.RouteMatch) bool {
	return websocket.IsWebSocketUpgrade(r)
}
