package links

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"
)

// Store abstracts link persistence for testability.
type Store interface {
	Create(ctx context.Context, link *Link) error
	GetByToken(ctx context.Context, token string) (*Link, error)
	RecordAccess(ctx context.Context, token string, at time.Time) error
	Deactivate(ctx context.Context, token string) error
}

// Service creates and resolves share links.
type Service struct {
	store    Store
	baseURL  string
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store Store, baseURL string) *Service {
	return &Service{
		store:    store,
		baseURL:  strings.TrimRight(baseURL, "/"),
		validate: validator.New(),
		now:      time.Now,
	}
}

// URLFor returns the public URL of a link token.
func (s *Service) URLFor(token string) string {
	return s.baseURL + "/links/" + token
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Link, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid link request: %w", err)
	}

	now := s.now().UTC()
	link := &Link{
		ID:        uuid.New().String(),
		Token:     ksuid.New().String(),
		LinkType:  req.LinkType,
		Title:     req.Title,
		Metadata:  req.Metadata,
		IsActive:  true,
		CreatedAt: now,
	}
	if req.ResourceID != "" {
		link.ResourceID = &req.ResourceID
	}
	if req.Description != "" {
		link.Description = &req.Description
	}
	if req.CreatedBy != "" {
		link.CreatedBy = &req.CreatedBy
	}
	if req.ExpiresInDays > 0 {
		expires := now.AddDate(0, 0, req.ExpiresInDays)
		link.ExpiresAt = &expires
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash link password: %w", err)
		}
		h := string(hash)
		link.PasswordHash = &h
	}

	if err := s.store.Create(ctx, link); err != nil {
		return nil, err
	}
	link.URL = s.URLFor(link.Token)
	return link, nil
}

// Get returns an active, unexpired link.
func (s *Service) Get(ctx context.Context, token string) (*Link, error) {
	link, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !link.IsActive {
		return nil, ErrLinkInactive
	}
	if link.Expired(s.now()) {
		return nil, ErrLinkExpired
	}
	link.URL = s.URLFor(link.Token)
	return link, nil
}

// VerifyPassword returns nil when password unlocks the link. Links without a password always verify.
func (s *Service) VerifyPassword(ctx context.Context, token, password string) error {
	link, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	if !link.HasPassword() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) RecordAccess(ctx context.Context, token string) error {
	return s.store.RecordAccess(ctx, token, s.now().UTC())
}

func (s *Service) Deactivate(ctx context.Context, token string) error {
	return s.store.Deactivate(ctx, token)
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers link HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/links").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/{token}", s.HandleGetLink).Methods("GET")
	router.HandleFunc("/{token}/verify", s.HandleVerifyPassword).Methods("POST")
	router.HandleFunc("/{token}", s.HandleDeactivateLink).Methods("DELETE")
}

// HandleGetLink resolves a link. Password-protected links need the X-Link-Password header.
func (s *Service) HandleGetLink(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	link, err := s.Get(r.Context(), token)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	if link.HasPassword() {
		if err := s.VerifyPassword(r.Context(), token, r.Header.Get("X-Link-Password")); err != nil {
			writeLinkError(w, err)
			return
		}
	}

	if err := s.RecordAccess(r.Context(), token); err != nil {
		slog.Warn("Failed to record link access", "token", token, "error", err)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(link)
}

func (s *Service) HandleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.VerifyPassword(r.Context(), token, body.Password)
	if err != nil && !errors.Is(err, ErrInvalidPassword) {
		writeLinkError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"valid": err == nil})
}

func (s *Service) HandleDeactivateLink(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	if err := s.Deactivate(r.Context(), token); err != nil {
		writeLinkError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeLinkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLinkNotFound):
		writeError(w, http.StatusNotFound, "link not found")
	case errors.Is(err, ErrLinkExpired), errors.Is(err, ErrLinkInactive):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, ErrInvalidPassword):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		slog.Error("Link request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
