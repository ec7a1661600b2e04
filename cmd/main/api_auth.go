package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL
);
`

const (
	apiKeyHeader = "X-Api-Key"
	apiKeyPrefix = "sc_"

	scopeMaster         = "*"
	scopeAuthManage     = "auth:manage"
	scopeCacheRead      = "cache:read"
	scopeServerConfig   = "server:config"
	scopeServerControl  = "server:control"
	scopeTemplatesRead  = "templates:read"
	scopeTemplatesWrite = "templates:write"
)

// primaryKeyID is the first key ever created. It always holds master scope and cannot be deleted.
const primaryKeyID = 1

var errKeyNotFound = errors.New("api key not found")

type contextKey string

const contextKeyPermissions = contextKey("permissions")

// Permissions holds the scopes granted to a request.
type Permissions struct {
	ScopeSet map[string]struct{}
}

func newPermissions(scopes []string) *Permissions {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &Permissions{ScopeSet: set}
}

// Has reports whether scope is granted, directly or through master scope.
func (p *Permissions) Has(scope string) bool {
	if _, ok := p.ScopeSet[scopeMaster]; ok {
		return true
	}
	_, ok := p.ScopeSet[scope]
	return ok
}

// Scopes returns the granted scopes in sorted order.
func (p *Permissions) Scopes() []string {
	scopes := make([]string, 0, len(p.ScopeSet))
	for s := range p.ScopeSet {
		scopes = append(scopes, s)
	}
	slices.Sort(scopes)
	return scopes
}

// APIKeyInfo is the structure returned when listing keys.
type APIKeyInfo struct {
	ID          int      `json:"id"`
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the JSON response after creating a key. RawKey is shown once.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

// keyStore keeps hashed API keys in sqlite. Raw keys are never stored.
type keyStore struct {
	db *sql.DB
}

func (k keyStore) count(ctx context.Context) (int, error) {
	var n int
	err := k.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&n)
	return n, err
}

// scopes returns the scopes of rawKey, or errKeyNotFound.
func (k keyStore) scopes(ctx context.Context, rawKey string) ([]string, error) {
	var scopes string
	err := k.db.QueryRowContext(ctx, "SELECT scopes FROM api_keys WHERE key_hash = ?", hashAPIKey(rawKey)).Scan(&scopes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return strings.Fields(scopes), nil
}

func (k keyStore) list(ctx context.Context) ([]APIKeyInfo, error) {
	rows, err := k.db.QueryContext(ctx, "SELECT id, description, scopes FROM api_keys ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := []APIKeyInfo{}
	for rows.Next() {
		var key APIKeyInfo
		var scopes string
		if err = rows.Scan(&key.ID, &key.Description, &scopes); err != nil {
			return nil, err
		}
		key.Scopes = strings.Fields(scopes)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// insert mints a new key and returns its id and the raw key.
func (k keyStore) insert(ctx context.Context, scopes []string, description string) (int, string, error) {
	rawKey, err := generateAPIKey()
	if err != nil {
		return 0, "", err
	}
	var id int
	err = k.db.QueryRowContext(ctx,
		"INSERT INTO api_keys (key_hash, description, scopes) VALUES (?, ?, ?) RETURNING id",
		hashAPIKey(rawKey), description, strings.Join(scopes, " ")).Scan(&id)
	if err != nil {
		return 0, "", err
	}
	return id, rawKey, nil
}

func (k keyStore) delete(ctx context.Context, id int) error {
	res, err := k.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errKeyNotFound
	}
	return nil
}

// AuthAPI authenticates admin requests and manages API keys.
type AuthAPI struct {
	keys   keyStore
	logger *slog.Logger
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		keys:   keyStore{db: db},
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
}

// Authenticate resolves the X-Api-Key header to a set of scopes. While no key
// exists the API is open with master scope, so the first key can be created.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scopes, err := a.requestScopes(r)
		switch {
		case errors.Is(err, errKeyNotFound):
			respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		case err != nil:
			a.logger.Error("Failed to authenticate request", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyPermissions, newPermissions(scopes))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthAPI) requestScopes(r *http.Request) ([]string, error) {
	n, err := a.keys.count(r.Context())
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []string{scopeMaster}, nil
	}
	rawKey := r.Header.Get(apiKeyHeader)
	if rawKey == "" {
		return nil, errKeyNotFound
	}
	return a.keys.scopes(r.Context(), rawKey)
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodPost {
		a.createKey(w, r)
		return
	}
	if !requireScope(w, r, scopeAuthManage) {
		return
	}
	keys, err := a.keys.list(r.Context())
	if err != nil {
		a.logger.Error("Failed to list API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	respondWithJSON(w, http.StatusOK, keys)
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}
	if !allowMethod(w, r, http.MethodDelete) || !requireScope(w, r, scopeAuthManage) {
		return
	}
	if id == primaryKeyID {
		respondWithError(w, http.StatusBadRequest, "Cannot delete the primary master key (ID 1)")
		return
	}

	switch err = a.keys.delete(r.Context(), id); {
	case errors.Is(err, errKeyNotFound):
		respondWithError(w, http.StatusNotFound, "Key not found")
	case err != nil:
		a.logger.Error("Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
	default:
		a.logger.Info("API key deleted", "id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"scopes": perms.Scopes()})
}

func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	n, err := a.keys.count(r.Context())
	if err != nil {
		a.logger.Error("Failed to count API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	if n > 0 && !requireScope(w, r, scopeAuthManage) {
		return
	}

	var req CreateKeyRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	scopes := req.Scopes
	// The first key is always master so nobody locks themselves out.
	if n == 0 {
		scopes = []string{scopeMaster}
	}

	id, rawKey, err := a.keys.insert(r.Context(), scopes, req.Description)
	if err != nil {
		a.logger.Error("Failed to create API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}
	a.logger.Info("API key created", "id", id, "scopes", scopes)
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{
		ID:     id,
		RawKey: rawKey,
		Scopes: strings.Fields(strings.Join(scopes, " ")),
	})
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
