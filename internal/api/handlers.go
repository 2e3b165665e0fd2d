// Package api provides HTTP handlers for funnelbot endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/glamlab/funnelbot/internal/models"
	"github.com/glamlab/funnelbot/internal/phone"
)

// registerRoutes installs the handler set on the given mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhook/whatsapp", s.webhookHandler)
	mux.HandleFunc("/leads", s.leadsHandler)
	mux.HandleFunc("/leads/", s.leadHandler)
	mux.HandleFunc("/checkout/", s.checkoutHandler)
	mux.HandleFunc("/intake", s.intakeHandler)
	mux.HandleFunc("/dashboard", s.dashboardHandler)
	mux.HandleFunc("/health", s.healthHandler)
}

// webhookHandler delegates to the messaging service, which acks every
// delivery with 200 "ok" regardless of parse outcome so the provider never
// re-queues a message.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	s.msgService.WebhookHandler(w, r)
}

// leadsHandler handles the collection endpoints: GET /leads lists summaries,
// POST /leads triggers outreach for a new lead.
func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		s.listLeadsHandler(w, r)
	case http.MethodPost:
		s.startOutreachHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

func (s *Server) listLeadsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listLeadsHandler: processing list request", "path", r.URL.Path)
	leads, err := s.st.ListLeads()
	if err != nil {
		slog.Error("Server.listLeadsHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list leads"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

func (s *Server) startOutreachHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.startOutreachHandler: processing outreach request", "path", r.URL.Path)
	var req models.OutreachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startOutreachHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.startOutreachHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	canonical, err := s.engine.StartOutreach(r.Context(), req.Name, req.Phone)
	if err != nil {
		if errors.Is(err, phone.ErrInvalidPhone) {
			slog.Warn("Server.startOutreachHandler: invalid phone", "phone", req.Phone, "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
			return
		}
		slog.Error("Server.startOutreachHandler: outreach failed", "phone", req.Phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start outreach"))
		return
	}

	slog.Info("Server.startOutreachHandler: outreach started", "phone", canonical, "name", req.Name)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Outreach started", map[string]string{"phone": canonical}))
}

// leadHandler dispatches the per-lead endpoints:
//
//	POST   /leads/dedupe            — merge duplicate records
//	GET    /leads/{phone}           — lead detail
//	DELETE /leads/{phone}           — delete lead and its log
//	GET    /leads/{phone}/history   — conversation log
//	POST   /leads/{phone}/purchased — mark purchased
func (s *Server) leadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.leadHandler invoked", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/leads/")
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown lead endpoint"))
		return
	}

	if segments[0] == "dedupe" && len(segments) == 1 {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		s.dedupeLeadsHandler(w, r)
		return
	}

	rawPhone, err := url.PathUnescape(segments[0])
	if err != nil {
		rawPhone = segments[0]
	}

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.getLeadHandler(w, r, rawPhone)
		case http.MethodDelete:
			s.deleteLeadHandler(w, r, rawPhone)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	if len(segments) == 2 {
		switch {
		case segments[1] == "history" && r.Method == http.MethodGet:
			s.leadHistoryHandler(w, r, rawPhone)
		case segments[1] == "purchased" && r.Method == http.MethodPost:
			s.markPurchasedHandler(w, r, rawPhone)
		default:
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown lead endpoint"))
		}
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown lead endpoint"))
}

func (s *Server) getLeadHandler(w http.ResponseWriter, r *http.Request, rawPhone string) {
	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		slog.Warn("Server.getLeadHandler: invalid phone", "phone", rawPhone, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
		return
	}
	lead, err := s.st.GetLead(canonical)
	if err != nil {
		slog.Error("Server.getLeadHandler: failed to load lead", "phone", canonical, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load lead"))
		return
	}
	if lead == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

func (s *Server) deleteLeadHandler(w http.ResponseWriter, r *http.Request, rawPhone string) {
	err := s.engine.DeleteLead(r.Context(), rawPhone)
	switch {
	case errors.Is(err, phone.ErrInvalidPhone):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
	case errors.Is(err, models.ErrLeadNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
	case err != nil:
		slog.Error("Server.deleteLeadHandler: delete failed", "phone", rawPhone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete lead"))
	default:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Lead deleted", nil))
	}
}

func (s *Server) leadHistoryHandler(w http.ResponseWriter, r *http.Request, rawPhone string) {
	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		slog.Warn("Server.leadHistoryHandler: invalid phone", "phone", rawPhone, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
		return
	}
	entries, err := s.st.ListLogEntries(canonical)
	if err != nil {
		slog.Error("Server.leadHistoryHandler: failed to load history", "phone", canonical, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation history"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

func (s *Server) markPurchasedHandler(w http.ResponseWriter, r *http.Request, rawPhone string) {
	err := s.engine.MarkPurchased(r.Context(), rawPhone)
	switch {
	case errors.Is(err, phone.ErrInvalidPhone):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
	case errors.Is(err, models.ErrLeadNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
	case err != nil:
		slog.Error("Server.markPurchasedHandler: mark purchased failed", "phone", rawPhone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to mark lead purchased"))
	default:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Lead marked purchased", nil))
	}
}

func (s *Server) dedupeLeadsHandler(w http.ResponseWriter, r *http.Request) {
	removed, err := s.engine.DedupeLeads(r.Context())
	if err != nil {
		slog.Error("Server.dedupeLeadsHandler: dedupe failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to merge duplicate leads"))
		return
	}
	slog.Info("Server.dedupeLeadsHandler: dedupe complete", "removed", removed)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"removed": removed}))
}

// checkoutHandler logs the click and sends the lead on to the payment page.
// The redirect happens even if logging fails: losing a metric is better than
// losing a sale.
func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	rawPhone := strings.TrimPrefix(r.URL.Path, "/checkout/")
	if unescaped, err := url.PathUnescape(rawPhone); err == nil {
		rawPhone = unescaped
	}

	if err := s.engine.RecordCheckoutClick(r.Context(), rawPhone); err != nil {
		slog.Warn("Server.checkoutHandler: failed to record click", "phone", rawPhone, "error", err)
	}

	if s.checkoutURL == "" {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Checkout click recorded", nil))
		return
	}
	http.Redirect(w, r, s.checkoutURL, http.StatusFound)
}

// intakeHandler accepts a bulk import of leads for the intake queue. The
// body is a JSON array of rows; rows missing a phone are skipped with a
// warning rather than failing the whole batch.
func (s *Server) intakeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var rows []models.IntakeRow
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		slog.Warn("Server.intakeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(rows) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No intake rows provided"))
		return
	}

	enqueued := 0
	skipped := 0
	for _, row := range rows {
		if row.Phone == "" {
			slog.Warn("Server.intakeHandler: skipping row without phone", "name", row.Name)
			skipped++
			continue
		}
		if _, err := s.st.AddIntakeRow(row); err != nil {
			slog.Error("Server.intakeHandler: failed to enqueue row", "phone", row.Phone, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to enqueue intake rows"))
			return
		}
		enqueued++
	}

	slog.Info("Server.intakeHandler: intake rows enqueued", "enqueued", enqueued, "skipped", skipped)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"enqueued": enqueued, "skipped": skipped}))
}

// dashboardHandler computes funnel metrics over the full lead set: volume
// over time, where each lead currently sits, and how the funnel converts.
func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	leads, err := s.st.ListLeads()
	if err != nil {
		slog.Error("Server.dashboardHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute dashboard metrics"))
		return
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	total := len(leads)
	var today, thisMonth, answered, purchased, checkout int
	perStage := make(map[string]int)
	for _, lead := range leads {
		if !lead.CreatedAt.Before(startOfDay) {
			today++
		}
		if !lead.CreatedAt.Before(startOfMonth) {
			thisMonth++
		}
		if lead.Answered {
			answered++
		}
		switch lead.Stage {
		case models.StagePurchased:
			purchased++
		case models.StageCheckout:
			checkout++
		}
		perStage[string(lead.Stage)]++
	}

	metrics := map[string]interface{}{
		"leads_total":      total,
		"leads_today":      today,
		"leads_this_month": thisMonth,
		"stages":           perStage,
		"answered":         answered,
		"reached_checkout": checkout,
		"purchased":        purchased,
		"answer_rate_pct":  percentage(answered, total),
		"checkout_pct":     percentage(checkout+purchased, total),
		"purchase_pct":     percentage(purchased, total),
	}

	slog.Debug("Server.dashboardHandler: metrics computed", "total", total, "purchased", purchased)
	writeJSONResponse(w, http.StatusOK, models.Success(metrics))
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// healthHandler provides a health check endpoint for monitoring and load
// balancing. Store reachability is the health indicator.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	leads, err := s.st.ListLeads()
	if err != nil {
		slog.Warn("Health check: store unreachable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to reach store"
		writeJSONResponse(w, http.StatusServiceUnavailable, healthData)
		return
	}
	healthData["leads_total"] = len(leads)
	writeJSONResponse(w, http.StatusOK, healthData)
}
