// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountChi mounts the routes on a chi router. Credential management and
// memory handle routes are wrapped in RequireToken.
//
// Example:
//
//	handler := webauthnhttp.NewHandler(svc, vault, jwtGen)
//	r.Route("/api/v1", func(r chi.Router) {
//	    webauthnhttp.MountChi(r, handler)
//	})
func MountChi(r chi.Router, h *Handler) {
	for _, route := range h.Routes() {
		if route.Bearer {
			r.With(h.RequireToken).MethodFunc(route.Method, route.Path, route.Handler)
			continue
		}
		r.MethodFunc(route.Method, route.Path, route.Handler)
	}
}

// RouteEntry represents a single route with its method, path, and handler.
// Path parameters use chi syntax.
type RouteEntry struct {
	Method  string
	Path    string
	Handler http.HandlerFunc

	// Bearer marks routes that need RequireToken.
	Bearer bool
}

// Routes returns every route the handler serves.
func (h *Handler) Routes() []RouteEntry {
	return []RouteEntry{
		{Method: http.MethodPost, Path: "/users", Handler: h.CreateUser},
		{Method: http.MethodPost, Path: "/registration/begin", Handler: h.BeginRegistration},
		{Method: http.MethodPost, Path: "/registration/finish", Handler: h.FinishRegistration},
		{Method: http.MethodPost, Path: "/authentication/begin", Handler: h.BeginAuthentication},
		{Method: http.MethodPost, Path: "/authentication/finish", Handler: h.FinishAuthentication},
		{Method: http.MethodPost, Path: "/seed/store", Handler: h.StoreSeed},
		{Method: http.MethodPost, Path: "/seed/retrieve", Handler: h.RetrieveSeed},
		{Method: http.MethodGet, Path: "/memory/{handle}", Handler: h.ReadMemory, Bearer: true},
		{Method: http.MethodDelete, Path: "/memory/{handle}", Handler: h.ReleaseMemory, Bearer: true},
		{Method: http.MethodPost, Path: "/memory/{handle}/extend", Handler: h.ExtendMemory, Bearer: true},
		{Method: http.MethodPost, Path: "/credentials/enroll", Handler: h.EnrollCredential},
		{Method: http.MethodGet, Path: "/status", Handler: h.Status, Bearer: true},
		{Method: http.MethodPut, Path: "/profile", Handler: h.UpdateProfile, Bearer: true},
		{Method: http.MethodDelete, Path: "/seed", Handler: h.DeleteSeed, Bearer: true},
		{Method: http.MethodGet, Path: "/credentials", Handler: h.ListCredentials, Bearer: true},
		{Method: http.MethodDelete, Path: "/credentials/{id}", Handler: h.RevokeCredential, Bearer: true},
		{Method: http.MethodPatch, Path: "/credentials/{id}", Handler: h.RenameCredential, Bearer: true},
		{Method: http.MethodPost, Path: "/credentials/{id}/primary", Handler: h.SetPrimary, Bearer: true},
		{Method: http.MethodPost, Path: "/credentials/{id}/rotate", Handler: h.RotateSalt, Bearer: true},
	}
}
