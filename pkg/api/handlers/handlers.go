// Package handlers carries the JSON endpoints of the collaborator surface:
// identity, chat CRUD, message create/list/hide and attachment uploads.
package handlers

import (
	"sync"
	"time"

	"github.com/gorilla/mux"

	"emberline/internal/retention"
	"emberline/pkg/realtime"
	"emberline/pkg/reply"
)

// API binds the handler set to its collaborators.
type API struct {
	Hub      *realtime.Hub
	Gateway  *realtime.Gateway
	Sched    *retention.Scheduler
	Linker   *reply.Linker
	Secrets  []string
	TokenTTL time.Duration
	// UploadsDir is where attachment bodies land; their reference string is
	// the message content.
	UploadsDir string

	// sendMu serializes persist+fan-out on the create path so the order in
	// which receiveMessage reaches a room matches store commit order.
	sendMu sync.Mutex
}

// Register mounts every versioned endpoint on the router.
func (a *API) Register(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	// identity
	v1.HandleFunc("/users", a.registerUser).Methods("POST")
	v1.HandleFunc("/auth/login", a.login).Methods("POST")
	v1.HandleFunc("/auth/me", a.me).Methods("GET")

	// chats
	v1.HandleFunc("/chats", a.createChat).Methods("POST")
	v1.HandleFunc("/chats", a.listChats).Methods("GET")
	v1.HandleFunc("/chats/{id}/messages", a.listVisibleMessages).Methods("GET")
	v1.HandleFunc("/chats/{id}/messages", a.hideChatMessages).Methods("DELETE")

	// messages
	v1.HandleFunc("/messages", a.createMessage).Methods("POST")
	v1.HandleFunc("/messages/{id}/read", a.markRead).Methods("POST")

	// attachments
	v1.HandleFunc("/uploads", a.upload).Methods("POST")

	// realtime handshake
	v1.HandleFunc("/ws", a.Gateway.HandleWS).Methods("GET")
}
