package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/similarity"
)

// Retriever is the retrieval surface the server needs.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]models.Document, error)
	Search(ctx context.Context, question string, k int) ([]similarity.Result[models.Document], error)
}

type Config struct {
	TopK      int
	Streaming bool
}

type Server struct {
	config    Config
	retriever Retriever
	chat      types.Generator
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
}

// Message is the WebSocket envelope in both directions.
type Message struct {
	ID      string          `json:"id,omitempty"` // echoed on every reply
	Type    string          `json:"type"`
	Content string          `json:"content"`
	History []types.Message `json:"history,omitempty"`
	Data    interface{}     `json:"data,omitempty"`
}

type chatRequest struct {
	Message string          `json:"message"`
	History []types.Message `json:"history"`
}

type chatResponse struct {
	Success  bool     `json:"success"`
	Response string   `json:"response,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Error    string   `json:"error,omitempty"`
	Details  string   `json:"details,omitempty"`
}

type searchRequest struct {
	Question string `json:"question"`
	K        int    `json:"k"`
}

type searchHit struct {
	models.Document
	Score float64 `json:"score"`
}

func New(config Config, r Retriever, chat types.Generator) *Server {
	if config.TopK <= 0 {
		config.TopK = 5
	}

	s := &Server{
		config:    config,
		retriever: r,
		chat:      chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Be careful with this in production
			},
		},
		mux: http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/search", s.handleSearch)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := chatResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required", nil)
		return
	}

	docs, err := s.retriever.Retrieve(r.Context(), req.Message, s.config.TopK)
	if err != nil {
		log.Printf("Retrieval error: %v", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed", err)
		return
	}

	response, err := s.chat.Chat(r.Context(), req.Message, req.History, docs)
	if err != nil {
		log.Printf("Chat error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate response", err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success:  true,
		Response: response,
		Sources:  llm.Sources(docs),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "Question is required", nil)
		return
	}

	results, err := s.retriever.Search(r.Context(), req.Question, req.K)
	if err != nil {
		log.Printf("Search error: %v", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed", err)
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{Document: res.Item, Score: res.Score})
	}
	writeJSON(w, http.StatusOK, hits)
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer raw.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &wsConn{conn: raw}

	// Messages on one connection are answered in the order they arrive so
	// their stream chunks never interleave.
	queue := make(chan Message, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range queue {
			s.handleMessage(ctx, conn, msg)
		}
	}()
	defer func() {
		close(queue)
		<-done
	}()

	for {
		_, message, err := raw.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Error reading message: %v", err)
			}
			cancel()
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		select {
		case queue <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *wsConn, msg Message) {
	reply := func(m Message) {
		m.ID = msg.ID
		conn.send(m)
	}

	query := strings.TrimSpace(msg.Content)
	if query == "" {
		reply(Message{Type: "error", Content: "Message is required"})
		return
	}

	reply(Message{Type: "status", Content: "Searching articles..."})

	docs, err := s.retriever.Retrieve(ctx, query, s.config.TopK)
	if err != nil {
		reply(Message{Type: "error", Content: "Failed to retrieve relevant articles: " + err.Error()})
		return
	}

	reply(Message{Type: "sources", Data: llm.Sources(docs)})

	if s.config.Streaming {
		stream, err := s.chat.ChatStream(ctx, query, msg.History, docs)
		if err != nil {
			reply(Message{Type: "error", Content: "Error: " + err.Error()})
			return
		}

		for chunk := range stream {
			if strings.HasPrefix(chunk, "Error:") {
				reply(Message{Type: "error", Content: chunk})
				continue
			}
			reply(Message{Type: "stream", Content: chunk})
		}
		reply(Message{Type: "done"})
		return
	}

	response, err := s.chat.Chat(ctx, query, msg.History, docs)
	if err != nil {
		reply(Message{Type: "error", Content: "Error: " + err.Error()})
		return
	}
	reply(Message{Type: "response", Content: response})
}
