package domain

import (
	"encoding/json"
	"errors"
)

// Reason код причины отказа. Уходит клиенту в поле "reason" как есть.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonMissingCredential    Reason = "MissingCredential"
	ReasonUnresolvableIdentity Reason = "UnresolvableIdentity"
	ReasonUnknownTool          Reason = "UnknownTool"
	ReasonCallerNotAllowed     Reason = "CallerNotAllowed"
	ReasonPurposeMismatch      Reason = "PurposeMismatch"
	ReasonInternalError        Reason = "InternalError"
)

// Ошибки пайплайна принятия решения. Наружу превращаются в Reason через ReasonFor.
var (
	ErrMissingCredential    = errors.New("missing or malformed bearer credential")
	ErrUnresolvableIdentity = errors.New("caller application identity cannot be resolved")
	ErrUnknownTool          = errors.New("unknown tool")
	ErrCallerNotAllowed     = errors.New("caller not allowed")
	ErrPurposeMismatch      = errors.New("purpose mismatch")

	// ErrMalformedRequest только для внутренней таксономии (метрики, аудит).
	// Клиент видит тот же вердикт, что и для пустого payload.
	ErrMalformedRequest = errors.New("malformed request payload")
)

// DecisionRequest входные данные одного решения. Живет в рамках одного запроса.
type DecisionRequest struct {
	ToolID          string
	CallerAppID     string // "" - идентичность не определена
	DeclaredPurpose string
}

// Decision вердикт. Сериализуется сразу после вычисления и выбрасывается.
type Decision struct {
	Allowed   bool
	ToolID    string
	Purpose   string
	Reason    Reason
	Minimized bool
}

// У разрешения и отказа разная форма на проводе: allow всегда несет tool, purpose и minimized
// (даже пустые), deny - только reason.
type allowWire struct {
	Allowed   bool   `json:"allowed"`
	ToolID    string `json:"tool"`
	Purpose   string `json:"purpose"`
	Minimized bool   `json:"minimized"`
}

type denyWire struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func (d Decision) MarshalJSON() ([]byte, error) {
	if d.Allowed {
		return json.Marshal(allowWire{Allowed: true, ToolID: d.ToolID, Purpose: d.Purpose, Minimized: d.Minimized})
	}
	return json.Marshal(denyWire{Allowed: false, Reason: d.Reason})
}

// Allow возвращает разрешающий вердикт. Эхо только tool и purpose, без claims и секретов.
func Allow(toolID, purpose string) Decision {
	return Decision{
		Allowed:   true,
		ToolID:    toolID,
		Purpose:   purpose,
		Minimized: true,
	}
}

// Deny возвращает запрещающий вердикт с причиной.
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// ReasonFor классифицирует любую ошибку пайплайна. Неизвестное - InternalError.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrMissingCredential):
		return ReasonMissingCredential
	case errors.Is(err, ErrUnresolvableIdentity):
		return ReasonUnresolvableIdentity
	case errors.Is(err, ErrUnknownTool):
		return ReasonUnknownTool
	case errors.Is(err, ErrCallerNotAllowed):
		return ReasonCallerNotAllowed
	case errors.Is(err, ErrPurposeMismatch):
		return ReasonPurposeMismatch
	default:
		return ReasonInternalError
	}
}
