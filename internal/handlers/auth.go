package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatme/backend/internal/auth"
	"github.com/chatme/backend/internal/logging"
	"github.com/chatme/backend/internal/models"
	"github.com/chatme/backend/internal/repositories"
)

const defaultMaxAvatarBytes = 5 << 20

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// AuthHandler implements user authentication endpoints.
type AuthHandler struct {
	Users    UserStore
	Sessions SessionManager
	// Avatars is optional; without it uploaded profile images are ignored.
	Avatars AvatarStore
	// Profiles, when set, forgets cached profiles after an avatar change.
	Profiles       ProfileCache
	MaxAvatarBytes int64
	NowFunc        func() time.Time
}

// Login handles POST /api/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "authentication services unavailable"})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		logger.Warn("login missing credentials", "email", req.Email)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	user, err := h.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			logger.Error("login user lookup failed", "email", req.Email, "error", err)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to sign in"})
			return
		}
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		logger.Warn("login password mismatch", "userId", user.ID)
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("failed to issue session", "error", err, "userId", user.ID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, authResponse{Tokens: tokens, User: user.Profile()})
}

// Register handles POST /api/auth/register. It accepts a multipart form with
// an optional profileImage file, or a JSON body.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "authentication services unavailable"})
		return
	}

	req, avatar, err := h.decodeRegistration(w, r)
	if err != nil {
		logger.Warn("invalid registration payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if msg := req.validate(); msg != "" {
		logger.Warn("registration rejected", "email", req.Email, "reason", msg)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	if _, err := h.Users.FindByEmail(ctx, req.Email); err == nil {
		logger.Warn("registration for existing account", "email", req.Email)
		respondJSON(ctx, w, http.StatusConflict, map[string]string{"error": "account already exists"})
		return
	} else if !errors.Is(err, repositories.ErrNotFound) {
		logger.Error("registration user lookup failed", "error", err, "email", req.Email)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to verify existing accounts"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("registration failed to hash password", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to secure password"})
		return
	}

	now := h.now()
	user := models.User{
		ID:        uuid.NewString(),
		Email:     req.Email,
		Username:  req.Username,
		Password:  string(hashed),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if avatar != nil {
		url, err := h.storeAvatar(ctx, user.ID, avatar)
		if err != nil {
			logger.Error("avatar upload failed", "error", err, "userId", user.ID)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to store profile image"})
			return
		}
		user.AvatarURL = url
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			respondJSON(ctx, w, http.StatusConflict, map[string]string{"error": "account already exists"})
			return
		}
		logger.Error("registration failed to create user", "error", err, "email", req.Email)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to create account"})
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("registration failed to issue session", "error", err, "userId", user.ID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		return
	}

	logger.Info("user registered", "userId", user.ID, "hasAvatar", user.AvatarURL != "")
	respondJSON(ctx, w, http.StatusCreated, authResponse{Tokens: tokens, User: user.Profile()})
}

// Refresh exchanges a refresh token for a new session.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Sessions == nil {
		logger.Error("session manager unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "session service unavailable"})
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid refresh payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "refresh token is required"})
		return
	}

	tokens, err := h.Sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrRefreshTokenExpired) || errors.Is(err, auth.ErrSessionNotFound) {
			status = http.StatusUnauthorized
		}
		logger.Warn("refresh failed", "error", err, "status", status)
		respondJSON(ctx, w, status, map[string]string{"error": "unable to refresh session"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, authResponse{Tokens: tokens})
}

// Me handles GET /api/auth/me.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		logging.FromContext(ctx).Error("load current user", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load user"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, user.Profile())
}

// UpdateAvatar handles PUT /api/auth/me/avatar with a multipart profileImage.
func (h AuthHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if h.Avatars == nil {
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "profile images are not enabled"})
		return
	}

	limit := h.maxAvatarBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	avatar, err := readAvatar(r, limit)
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if avatar == nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "profileImage is required"})
		return
	}

	user, err := h.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		logger.Error("load user for avatar update", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load user"})
		return
	}

	url, err := h.storeAvatar(ctx, user.ID, avatar)
	if err != nil {
		logger.Error("avatar upload failed", "error", err, "userId", user.ID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to store profile image"})
		return
	}

	user.AvatarURL = url
	user.UpdatedAt = h.now()
	if err := h.Users.Update(ctx, user); err != nil {
		logger.Error("avatar update failed", "error", err, "userId", user.ID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to update profile"})
		return
	}
	if h.Profiles != nil {
		h.Profiles.Invalidate(user.ID)
	}

	logger.Info("avatar updated", "userId", user.ID)
	respondJSON(ctx, w, http.StatusOK, user.Profile())
}

type avatarUpload struct {
	contentType string
	data        []byte
}

func (h AuthHandler) decodeRegistration(w http.ResponseWriter, r *http.Request) (registerRequest, *avatarUpload, error) {
	var req registerRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, nil, errors.New("invalid request body")
		}
		req.normalize()
		return req, nil, nil
	}

	limit := h.maxAvatarBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return req, nil, errors.New("invalid multipart form")
	}
	req.Email = r.FormValue("email")
	req.Username = r.FormValue("username")
	req.Password = r.FormValue("password")
	req.normalize()

	avatar, err := readAvatar(r, limit)
	if err != nil {
		return req, nil, err
	}
	return req, avatar, nil
}

// readAvatar returns the profileImage part of a parsed multipart form, or nil
// when none was sent.
func readAvatar(r *http.Request, limit int64) (*avatarUpload, error) {
	file, _, err := r.FormFile("profileImage")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("invalid profile image")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, errors.New("invalid profile image")
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("profile image exceeds %d bytes", limit)
	}
	contentType := http.DetectContentType(data)
	if _, ok := avatarExtensions[contentType]; !ok {
		return nil, errors.New("profile image must be png, jpeg, gif or webp")
	}
	return &avatarUpload{contentType: contentType, data: data}, nil
}

func (h AuthHandler) storeAvatar(ctx context.Context, userID string, avatar *avatarUpload) (string, error) {
	if h.Avatars == nil {
		logging.FromContext(ctx).Warn("avatar storage not configured, ignoring profile image")
		return "", nil
	}
	key := "avatars/" + userID + avatarExtensions[avatar.contentType]
	return h.Avatars.Save(ctx, key, bytes.NewReader(avatar.data))
}

func (h AuthHandler) maxAvatarBytes() int64 {
	if h.MaxAvatarBytes > 0 {
		return h.MaxAvatarBytes
	}
	return defaultMaxAvatarBytes
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *registerRequest) normalize() {
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.Username = strings.TrimSpace(r.Username)
}

func (r registerRequest) validate() string {
	switch {
	case r.Email == "" || r.Password == "" || r.Username == "":
		return "email, username and password are required"
	case !validEmail(r.Email):
		return "invalid email address"
	case utf8.RuneCountInString(r.Username) > 32:
		return "username must be at most 32 characters"
	case len(r.Password) < 8:
		return "password must be at least 8 characters"
	}
	return ""
}

func validEmail(address string) bool {
	parsed, err := mail.ParseAddress(address)
	return err == nil && parsed.Name == "" && parsed.Address == address
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	Tokens models.SessionTokens `json:"tokens"`
	User   models.Profile       `json:"user,omitzero"`
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

// requireUser returns the caller set by the bearer middleware.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respondJSON(r.Context(), w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return "", false
	}
	return userID, true
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}
