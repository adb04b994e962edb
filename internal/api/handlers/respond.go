package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wonny/stratstats/internal/contracts"
)

// Identity headers set by the upstream auth gateway
const (
	HeaderMemberID   = "X-Member-Id"
	HeaderMemberRole = "X-Member-Role"
)

// Roles that bypass the strategy owner check
const (
	RoleAdmin  = "ADMIN"
	RoleSystem = "SYSTEM" // member management service (strategy deletion notification)
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error string               `json:"error"`
	Kind  contracts.ErrorKind  `json:"kind,omitempty"`
	Rows  []contracts.RowError `json:"rows,omitempty"`
}

// StatusFor maps a domain error kind to an HTTP status
// ⭐ SSOT: 에러 종류 → HTTP 상태 매핑은 여기서만
func StatusFor(kind contracts.ErrorKind) int {
	switch kind {
	case contracts.KindMalformedRow,
		contracts.KindInvalidDateFormat,
		contracts.KindInvalidAmount,
		contracts.KindMultiSheetNotAllowed,
		contracts.KindRowLimitExceeded,
		contracts.KindEmptyBatch,
		contracts.KindFieldValidationFailed,
		contracts.KindUnsupportedFile,
		contracts.KindInvalidArgument:
		return http.StatusBadRequest
	case contracts.KindDuplicateDateInBatch:
		return http.StatusConflict
	case contracts.KindAccessDenied:
		return http.StatusForbidden
	case contracts.KindStrategyNotFound,
		contracts.KindAggregateNotFound,
		contracts.KindRecordNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondDomainError writes domain errors with their kind and rows; anything else is a 500
func (h *StatisticsHandler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *contracts.Error
	if !errors.As(err, &de) {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Statistics request failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := StatusFor(de.Kind)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Statistics request failed")
	}
	respondJSON(w, status, ErrorResponse{Error: de.Message, Kind: de.Kind, Rows: de.Rows})
}

// SubmitterFrom reads the gateway identity headers
func SubmitterFrom(r *http.Request) (contracts.Submitter, error) {
	memberID := strings.TrimSpace(r.Header.Get(HeaderMemberID))
	if memberID == "" {
		return contracts.Submitter{}, contracts.NewError(contracts.KindAccessDenied, "missing %s header", HeaderMemberID)
	}
	return contracts.Submitter{
		MemberID:     memberID,
		RequireOwner: !isPrivileged(r),
	}, nil
}

func isPrivileged(r *http.Request) bool {
	switch strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderMemberRole))) {
	case RoleAdmin, RoleSystem:
		return true
	default:
		return false
	}
}

// requirePrivileged guards maintenance endpoints (purge, rollback, rebuild, verify)
func requirePrivileged(r *http.Request) error {
	if _, err := SubmitterFrom(r); err != nil {
		return err
	}
	if !isPrivileged(r) {
		return contracts.NewError(contracts.KindAccessDenied, "operation requires the %s or %s role", RoleAdmin, RoleSystem)
	}
	return nil
}
