// ABOUTME: REST handlers for accounts, user search, and chat history
// ABOUTME: Maps service errors onto HTTP statuses with a JSON message body

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/litemessenger/chat-relay/internal/auth"
	"github.com/litemessenger/chat-relay/internal/avatars"
	"github.com/litemessenger/chat-relay/internal/chat"
	"github.com/litemessenger/chat-relay/internal/store"
	"github.com/litemessenger/chat-relay/internal/user"
)

// maxAvatarBytes caps avatar uploads.
const maxAvatarBytes = 5 << 20

// credentialsRequest is the JSON body for register and login.
type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse carries the access token and the account it belongs to.
type authResponse struct {
	Token string        `json:"token"`
	User  *user.Profile `json:"user"`
}

// startChatRequest is the JSON body for POST /api/chats/start.
type startChatRequest struct {
	ParticipantID string `json:"participantId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := s.users.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrNameRequired),
			errors.Is(err, user.ErrEmailRequired),
			errors.Is(err, user.ErrPasswordRequired):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, user.ErrEmailTaken):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.internalError(w, "registering user", err)
		}
		return
	}

	s.respondWithToken(w, http.StatusCreated, profile)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.internalError(w, "logging in", err)
		return
	}

	s.respondWithToken(w, http.StatusOK, profile)
}

// respondWithToken mints a token for the profile and writes the auth response.
func (s *Server) respondWithToken(w http.ResponseWriter, status int, profile *user.Profile) {
	token, err := s.tokens.Generate(profile.ID)
	if err != nil {
		s.internalError(w, "generating token", err)
		return
	}
	s.writeJSON(w, status, &authResponse{Token: token, User: profile})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	profile, err := s.users.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.internalError(w, "loading profile", err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	preview, err := s.users.Preview(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.internalError(w, "loading user", err)
		return
	}
	s.writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	previews, err := s.users.Search(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		s.internalError(w, "searching users", err)
		return
	}
	s.writeJSON(w, http.StatusOK, previews)
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("avatar")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAvatarBytes))
	if err != nil {
		s.internalError(w, "reading upload", err)
		return
	}

	profile, err := s.users.UpdateAvatar(r.Context(), userID, data)
	if err != nil {
		if errors.Is(err, avatars.ErrUnsupportedType) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, "updating avatar", err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	summaries, err := s.chats.ListChats(r.Context(), userID)
	if err != nil {
		s.internalError(w, "listing chats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req startChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParticipantID == "" {
		s.writeError(w, http.StatusBadRequest, "participantId is required")
		return
	}

	c, err := s.chats.EnsureChat(r.Context(), userID, req.ParticipantID)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrSelfChat):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, chat.ErrUserNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		default:
			s.internalError(w, "starting chat", err)
		}
		return
	}

	summary, err := s.chats.Summary(r.Context(), c.ID, userID)
	if err != nil {
		s.internalError(w, "summarizing chat", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	messages, err := s.chats.History(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrChatNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, chat.ErrNotAParticipant):
			s.writeError(w, http.StatusForbidden, err.Error())
		default:
			s.internalError(w, "loading history", err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

// internalError logs the underlying cause and masks it from the client.
func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal server error")
}
