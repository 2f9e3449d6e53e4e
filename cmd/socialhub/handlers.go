package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"socialhub/internal/constants"
	apperrors "socialhub/internal/errors"
	"socialhub/internal/httputil"
	"socialhub/internal/models"
	"socialhub/internal/privacy"
	"socialhub/internal/service"
	"socialhub/internal/tracing"
	"socialhub/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.messages.Health())
	}
}

func (s *Server) handleWhatsAppVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		challenge, ok := webhook.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.cfg.WhatsApp.VerifyToken)
		if !ok {
			s.logger.WithField(service.LogFieldRemoteIP, httputil.GetClientIP(r)).Warn("Webhook verification rejected")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, challenge)
	}
}

// handleWhatsAppWebhook acknowledges as soon as the payload is decoded.
// Processing happens on the webhook worker.
func (s *Server) handleWhatsAppWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxWebhookBodyBytes)
		logger := s.logger.WithField(service.LogFieldRequestID, tracing.GetRequestID(r.Context()))

		body, err := verifySignature(r, s.cfg.WhatsApp.AppSecret)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			logger.WithError(err).Warn("Webhook signature rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload models.WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			logger.WithError(err).Warn("Webhook payload is not valid JSON")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		s.processor.Enqueue(r.Context(), &payload)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts := s.messages.Contacts()
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"contacts": contacts,
			"count":    len(contacts),
		})
	}
}

func (s *Server) handleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contact := mux.Vars(r)["contact"]

		var since int64
		if raw := r.URL.Query().Get("since"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				s.writeError(w, r, apperrors.NewValidationError("since", raw, "since must be a unix timestamp in milliseconds"))
				return
			}
			since = v
		}

		msgs, err := s.messages.Messages(contact, since)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"contactId": models.NormalizeContactID(contact),
			"messages":  msgs,
			"count":     len(msgs),
		})
	}
}

func (s *Server) handlePostMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in service.LocalMessage
		if err := s.decodeBody(w, r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.messages.PostLocal(r.Context(), in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status := http.StatusCreated
		if !result.Appended {
			status = http.StatusOK
		}
		s.writeJSON(w, status, result)
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := platformVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req verifyRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.credentials.Verify(r.Context(), p, req.Token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

type connectRequest struct {
	UserID      string `json:"userId"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

func (s *Server) handleConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := platformVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req connectRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		r = r.WithContext(apperrors.WithUserID(r.Context(), privacy.MaskUserID(req.UserID)))

		bundles, err := s.credentials.Connect(r.Context(), req.UserID, p, req.Code, req.RedirectURI)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.WithFields(logrus.Fields{
			service.LogFieldUserID:   privacy.MaskUserID(req.UserID),
			service.LogFieldPlatform: p,
			service.LogFieldCount:    len(bundles),
		}).Info("Platform account connected")
		s.writeJSON(w, http.StatusCreated, map[string]interface{}{
			"credentials": bundles,
			"count":       len(bundles),
		})
	}
}

func (s *Server) handleListCredentials() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundles, err := s.credentials.List(r.Context(), mux.Vars(r)["user"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"credentials": bundles,
			"count":       len(bundles),
		})
	}
}

func (s *Server) handleGetCredential() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := credentialKeyVars(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		bundle, err := s.credentials.Get(r.Context(), key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, bundle)
	}
}

func (s *Server) handleDeleteCredential() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := credentialKeyVars(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.credentials.Delete(r.Context(), key); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type refreshRequest struct {
	Key string `json:"key,omitempty"`
}

// handleRefresh runs a manual refresh. An empty body refreshes every stale
// credential; {"key":"user:platform:account"} refreshes one.
func (s *Server) handleRefresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := s.decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, r, err)
			return
		}

		var key *models.CredentialKey
		if strings.TrimSpace(req.Key) != "" {
			parsed, err := models.ParseCredentialKey(req.Key)
			if err != nil {
				s.writeError(w, r, apperrors.NewValidationError("key", req.Key, err.Error()))
				return
			}
			key = &parsed
		}

		summary, err := s.credentials.TriggerRefresh(r.Context(), key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, summary)
	}
}

// decodeBody decodes a bounded JSON body. An empty body is a validation
// error that still matches io.EOF.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxAPIBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "request body is required").
				WithUserMessage("Request body is required")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body").
			WithUserMessage("Request body must be valid JSON")
	}
	return nil
}

func platformVar(r *http.Request) (models.Platform, error) {
	raw := mux.Vars(r)["platform"]
	p, err := models.ParsePlatform(raw)
	if err != nil {
		return "", apperrors.NewValidationError("platform", raw, err.Error())
	}
	return p, nil
}

func credentialKeyVars(r *http.Request) (models.CredentialKey, error) {
	vars := mux.Vars(r)
	p, err := platformVar(r)
	if err != nil {
		return models.CredentialKey{}, err
	}
	key := models.CredentialKey{UserID: vars["user"], Platform: p, AccountID: vars["account"]}
	if err := key.Validate(); err != nil {
		return models.CredentialKey{}, apperrors.NewValidationError("key", key.String(), err.Error())
	}
	return key, nil
}
