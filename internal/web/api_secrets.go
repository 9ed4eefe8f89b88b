package web

import (
	"encoding/json"
	"net/http"

	"github.com/mtzanidakis/nimbus/internal/store"
)

// Secret values are write-only over the API; they are read back only by
// the gateway when resolving secret:<name> config references.

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.Store.ListSecrets()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if secrets == nil {
		secrets = []store.Secret{}
	}
	jsonResponse(w, secrets)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if s.Vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	sec, err := s.Vault.Seal(body.Name, body.Description, []byte(body.Value))
	if err != nil {
		jsonError(w, "encryption failed", http.StatusInternalServerError)
		return
	}
	if err := s.Store.SaveSecret(sec); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonStatus(w, http.StatusCreated, map[string]any{
		"id":          sec.ID,
		"name":        sec.Name,
		"description": sec.Description,
	})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	deleted, err := s.Store.DeleteSecretByName(name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}
