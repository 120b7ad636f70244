package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lexwrite/api/internal/assist"
	"lexwrite/api/internal/auth"
	"lexwrite/api/internal/autosave"
	"lexwrite/api/internal/billing"
	"lexwrite/api/internal/entitlement"
	"lexwrite/api/internal/metrics"
	"lexwrite/api/internal/storage"
	"lexwrite/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: promhttp.Handler()}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		unauthenticated := map[string]any{"authenticated": false, "user": nil, "profile": nil, "hasPremium": false}
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, unauthenticated)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, unauthenticated)
			return
		}
		appCtx, err := s.service.AppContext(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appContextView(appCtx))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionView(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.URL.Path == "/api/billing/webhook" {
		if s.service.billing == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing signature or webhook secret"})
			return
		}
		s.service.billing.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/billing/plans" {
		writeJSON(w, http.StatusOK, map[string]any{"plans": s.service.Plans()})
		return
	}

	parts := splitPath(r.URL.Path)

	// The editor's websocket cannot send headers, so the token may ride in the query.
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "documents" && parts[3] == "live" {
		s.handleLive(w, r, parts[2])
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/profile" {
		appCtx, err := s.service.AppContext(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if appCtx.Profile == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Profile not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profile":    profileView(*appCtx.Profile),
			"hasPremium": appCtx.HasPremium,
			"features":   appCtx.Features,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), session, strings.TrimSpace(r.URL.Query().Get("q")), limit, offset))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/ai/assist" {
		var body assist.Request
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		result, err := s.service.Assist(r.Context(), session, body)
		if err != nil {
			s.writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/ai/citation" {
		var body assist.CitationRequest
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		citation, err := s.service.Citation(r.Context(), session, body)
		if err != nil {
			s.writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, citation)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/billing/checkout" {
		var body billing.CheckoutRequest
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		url, err := s.service.Checkout(r.Context(), session, body, r.Header.Get("Origin"))
		if err != nil {
			s.writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "documents" {
		documentID := ""
		if len(parts) >= 3 {
			documentID = parts[2]
		}
		s.handleDocuments(w, r, session, documentID, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, documentID string, parts []string) {
	ctx := r.Context()

	if documentID == "" {
		switch r.Method {
		case http.MethodGet:
			documents, err := s.service.ListDocuments(ctx, session)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			items := make([]map[string]any, 0, len(documents))
			for _, doc := range documents {
				items = append(items, documentView(doc))
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		case http.MethodPost:
			if !s.requireFeature(w, r, session, entitlement.FeatureDocumentsWrite) {
				return
			}
			var body struct {
				Title   string `json:"title"`
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.CreateDocument(ctx, session, body.Title, body.Content)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"document": documentView(doc)})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(ctx, session, documentID)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": documentView(doc)})
		case http.MethodPut:
			if !s.requireFeature(w, r, session, entitlement.FeatureDocumentsWrite) {
				return
			}
			var body struct {
				Title   *string `json:"title"`
				Content string  `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.SaveDocument(ctx, session, documentID, body.Title, body.Content)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": documentView(doc)})
		case http.MethodDelete:
			if r.URL.Query().Get("confirm") != "true" {
				writeError(w, http.StatusPreconditionRequired, "CONFIRMATION_REQUIRED", "Deleting a document must be confirmed with ?confirm=true", nil)
				return
			}
			if err := s.service.DeleteDocument(ctx, session, documentID); err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "history" {
		if !s.requireFeature(w, r, session, entitlement.FeatureHistory) {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		commits, err := s.service.DocumentHistory(ctx, session, documentID, limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(commits))
		for _, commit := range commits {
			items = append(items, commitView(commit))
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": items})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 5 && parts[3] == "history" {
		if !s.requireFeature(w, r, session, entitlement.FeatureHistory) {
			return
		}
		content, commit, err := s.service.DocumentRevision(ctx, session, documentID, parts[4])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"revision": commitView(commit),
			"title":    content.Title,
			"content":  content.Content,
		})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "export" {
		if !s.requireFeature(w, r, session, entitlement.FeatureExport) {
			return
		}
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		outcome, err := s.service.ExportDocument(ctx, session, documentID, body.Format)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if outcome.URL != "" {
			writeJSON(w, http.StatusOK, map[string]any{"url": outcome.URL})
			return
		}
		w.Header().Set("Content-Type", outcome.Result.MimeType)
		w.Header().Set("Content-Disposition", storage.ContentDisposition(outcome.Result.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(outcome.Result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(outcome.Result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request, documentID string) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	if !s.requireFeature(w, r, session, entitlement.FeatureAutosave) {
		return
	}
	if _, err := s.service.GetDocument(r.Context(), session, documentID); err != nil {
		s.writeMappedError(w, err)
		return
	}
	if s.service.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "LIVE_UNAVAILABLE", "Live editing is not available", nil)
		return
	}
	s.service.hub.ServeWS(w, r, documentID, autosave.Editor{UserID: session.UserID, Email: session.Email})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) requireFeature(w http.ResponseWriter, r *http.Request, session Session, feature entitlement.Feature) bool {
	if err := s.service.RequireFeature(r.Context(), session, feature); err != nil {
		s.writeMappedError(w, err)
		return false
	}
	return true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

// writeUpstreamError keeps the {error} body the editor expects from the AI
// and checkout routes. Gate and quota errors still use the coded form.
func (s *HTTPServer) writeUpstreamError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.Status == http.StatusTooManyRequests {
			if details, ok := domainErr.Details.(map[string]any); ok {
				if retry, ok := details["retryAfterSeconds"].(int); ok {
					w.Header().Set("Retry-After", strconv.Itoa(retry))
				}
			}
		}
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	var upstream *upstreamFailure
	if !errors.As(err, &upstream) {
		s.service.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		metrics.HTTPRequestsTotal.WithLabelValues(routeGroup(r.URL.Path), strconv.Itoa(writer.status)).Inc()
		s.service.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// routeGroup keeps metric labels bounded: /api/documents/<id>/history -> /api/documents.
func routeGroup(path string) string {
	parts := splitPath(path)
	switch {
	case len(parts) == 0:
		return "/"
	case len(parts) == 1:
		return "/" + parts[0]
	default:
		return "/" + parts[0] + "/" + parts[1]
	}
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Stripe-Signature")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
