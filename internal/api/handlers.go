package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chorus-net/chorus-bridge/internal/bridge"
	"github.com/chorus-net/chorus-bridge/internal/middleware"
)

// maxEnvelopeBytes bounds inbound request bodies.
const maxEnvelopeBytes = 1 << 20

// bodyErrorStatus maps body read failures to their HTTP status.
func bodyErrorStatus(err error) int {
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (s *Server) handleDayProof(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.ParseInt(mux.Vars(r)["day"], 10, 64)
	if err != nil || day < 0 {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "day must be a non-negative integer"})
		return
	}

	rec, err := s.core.GetDayProof(r.Context(), day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rec == nil {
		s.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no proof for day %d", day)})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"day_number": rec.DayNumber,
		"proof":      rec.Proof,
		"proof_hash": rec.ProofHash,
		"canonical":  rec.Canonical,
		"source":     rec.Source,
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"instances": s.core.Peers()})
}

func (s *Server) handleFederationSend(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if errors.Is(err, errBodyTooLarge) {
		s.writeJSON(w, r, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	if err != nil || len(raw) == 0 {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "empty envelope body"})
		return
	}

	stageInstance := r.Header.Get(middleware.InstanceIDHeader)
	idempotencyKey := r.Header.Get("Idempotency-Key")

	receipt, fingerprint, err := s.core.ProcessEnvelope(r.Context(), raw, idempotencyKey, stageInstance)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]interface{}{
		"status":      "accepted",
		"event_hash":  receipt.EventHash,
		"epoch":       receipt.Epoch,
		"fingerprint": fingerprint,
	})
}

type exportRequest struct {
	ChorusPost string `json:"chorus_post"` // hex-encoded PostAnnouncement
	BodyMD     string `json:"body_md"`
	Signature  []byte `json:"signature"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeJSON(w, r, bodyErrorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	postBytes, err := hex.DecodeString(req.ChorusPost)
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "chorus_post must be hex"})
		return
	}

	jobID, err := s.core.QueueActivityPubExport(r.Context(), bridge.ExportRequest{
		ChorusPost: postBytes,
		BodyMD:     req.BodyMD,
		Signature:  req.Signature,
	}, r.Header.Get(middleware.InstanceIDHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued", "job_id": jobID})
}

type moderationRequest struct {
	ModerationEvent string `json:"moderation_event"` // hex-encoded ModerationEvent
	Signature       []byte `json:"signature"`
}

func (s *Server) handleModerationEvent(w http.ResponseWriter, r *http.Request) {
	var req moderationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeJSON(w, r, bodyErrorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	eventBytes, err := hex.DecodeString(req.ModerationEvent)
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "moderation_event must be hex"})
		return
	}

	eventID, receipt, err := s.core.RecordModerationEvent(r.Context(), bridge.ModerationRequest{
		ModerationEvent: eventBytes,
		Signature:       req.Signature,
	}, r.Header.Get(middleware.InstanceIDHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]interface{}{
		"status":     "accepted",
		"event_id":   eventID,
		"epoch":      receipt.Epoch,
		"event_hash": receipt.EventHash,
	})
}
