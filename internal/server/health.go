package server

import (
	"net/http"
	"time"

	"github.com/n0madic/go-qwenmock/internal/codec"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Clients   int    `json:"clients"`
	Tokens    int    `json:"tokens"`
}

// handleHealth answers 200 while the process is up, even with an empty pool.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Clients:   s.Pool.ClientCount(),
		Tokens:    s.Pool.Size(),
	})
}
