package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Mister-Yo/whisper-protocol/internal/registry"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

type registerReq struct {
	Account     string `json:"account"`
	PublicKey   []byte `json:"public_key"`
	DisplayName string `json:"display_name,omitempty"`
}

// Register handles POST /v1/registry/register.
func (c *Controller) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	version, err := c.rt.Registry().Register(r.Context(), req.Account, req.PublicKey, req.DisplayName)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	c.logger.Info("key registered",
		logpkg.Str("account", req.Account), logpkg.Uint64("version", uint64(version)))
	writeJSON(w, map[string]any{"account": req.Account, "version": version})
}

// Lookup handles GET /v1/registry/lookup?account=&version=.
func (c *Controller) Lookup(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	version, ok := queryUint(r, "version")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad version")
		return
	}
	var (
		key registry.RegisteredKey
		err error
	)
	if version > 0 {
		key, err = c.rt.Registry().LookupVersion(account, uint32(version))
	} else {
		key, err = c.rt.Registry().Lookup(account)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "no key registered for account")
		return
	}
	writeJSON(w, key)
}

// CreateGroup handles POST /v1/groups/create.
func (c *Controller) CreateGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var g registry.GroupMeta
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := c.rt.Registry().CreateGroup(r.Context(), g); err != nil {
		switch {
		case errors.Is(err, registry.ErrGroupExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, registry.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "group creation failed")
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"group_id": g.GroupID})
}

// GetGroup handles GET /v1/groups/get?id=.
func (c *Controller) GetGroup(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	g, err := c.rt.Registry().GetGroup(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	writeJSON(w, g)
}
