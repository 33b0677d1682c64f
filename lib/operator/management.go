// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package operator

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/taskhive/taskhive/sdk/go/ctxlog"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// ManagementHandler returns the operator's management API: live
// runs, metrics, and a health check, protected by the given literal
// token.
func (op *Operator) ManagementHandler(token string) http.Handler {
	op.Start()
	if token == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Management API authentication is not configured", http.StatusForbidden)
		})
	}
	mux := httprouter.New()
	mux.HandlerFunc("GET", "/operator/v1/runs", op.apiRuns)
	mux.HandlerFunc("POST", "/operator/v1/runs/expire", op.apiRunExpire)
	mux.Handler("GET", "/metrics", promhttp.HandlerFor(op.Registry, promhttp.HandlerOpts{}))
	mux.HandlerFunc("GET", "/_health/ping", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"health": "OK"})
	})
	auth := requireLiteralToken(token, mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(ctxlog.Context(r.Context(), op.Logger))
		auth.ServeHTTP(w, r)
	})
}

// Management API: all live (not yet torn down) runs.
func (op *Operator) apiRuns(w http.ResponseWriter, r *http.Request) {
	var resp struct {
		Items []taskhive.TaskRun `json:"items"`
	}
	for _, run := range op.LiveRuns() {
		resp.Items = append(resp.Items, run)
	}
	json.NewEncoder(w).Encode(resp)
}

// Management API: expire the outstanding units of one live run so no
// new worker can start them. The run stays tracked until its
// completion flag flips.
func (op *Operator) apiRunExpire(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("run_id")
	if id == "" {
		http.Error(w, "run_id parameter not provided", http.StatusBadRequest)
		return
	}
	op.mtx.Lock()
	tr, ok := op.tracked[id]
	op.mtx.Unlock()
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err := tr.Launcher.ExpireUnits(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ctxlog.FromContext(r.Context()).WithField("RunID", id).Info("outstanding units expired")
	json.NewEncoder(w).Encode(map[string]string{"run_id": id, "units": "expired"})
}

// requireLiteralToken wraps h, rejecting requests that do not carry
// the expected bearer token.
func requireLiteralToken(token string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "invalid or missing management token", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
