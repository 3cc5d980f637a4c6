package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/purposegate/internal/audit"
	"github.com/xela07ax/purposegate/internal/domain"
	"github.com/xela07ax/purposegate/internal/infra/auth"
	"github.com/xela07ax/purposegate/internal/policy"
)

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"

	PurposeHeader = "x-purpose"
)

// Input то, что транспорт (HTTP или gRPC) смог достать из запроса.
type Input struct {
	ToolID        string
	Authorization string
	Purpose       string
	Malformed     bool // тело не прочиталось или не JSON-объект, ToolID уже пустой
	Transport     string
}

// Gateway - Policy Enforcement Point: identity -> PDP -> вердикт.
// Один экземпляр обслуживает все транспорты, состояние только в снимке реестра.
type Gateway struct {
	identity     auth.AppIDExtractor
	pdp          policy.Enforcer
	auditor      audit.Auditor
	metrics      *Metrics
	logger       *zap.Logger
	maxBodyBytes int64
}

func NewGateway(identity auth.AppIDExtractor, pdp policy.Enforcer, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger, maxBodyBytes int64) *Gateway {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Gateway{
		identity:     identity,
		pdp:          pdp,
		auditor:      auditor,
		metrics:      metrics,
		logger:       logger.Named("gateway"),
		maxBodyBytes: maxBodyBytes,
	}
}

// Evaluate единый пайплайн для всех транспортов. Никогда не возвращает ошибку:
// любой сбой превращается в отказ с причиной.
func (g *Gateway) Evaluate(ctx context.Context, in Input) domain.Decision {
	start := time.Now()
	traceID := extractTraceID(ctx)

	var errType string
	if in.Malformed {
		errType = ErrTypeMalformedRequest
		g.metrics.IncError(errType)
	}

	var decision domain.Decision
	appID, err := g.identity.ExtractAppID(ctx, in.Authorization)
	if err != nil {
		decision = domain.Deny(domain.ReasonFor(err))
		errType = identityErrorType(err)
		g.metrics.IncError(errType)
		if errType == ErrTypeVerificationFailed {
			g.logger.Warn("token rejected",
				zap.String("trace_id", traceID),
				zap.String("transport", in.Transport),
				zap.Error(err))
		}
	} else {
		decision = g.pdp.Decide(domain.DecisionRequest{
			ToolID:          in.ToolID,
			CallerAppID:     appID,
			DeclaredPurpose: in.Purpose,
		})
	}

	took := time.Since(start)
	g.metrics.ObserveDecision(in.ToolID, decision, took)

	g.logger.Debug("decision",
		zap.String("trace_id", traceID),
		zap.String("transport", in.Transport),
		zap.String("tool", in.ToolID),
		zap.String("caller_app_id", appID),
		zap.String("purpose", in.Purpose),
		zap.Bool("allowed", decision.Allowed),
		zap.String("reason", string(decision.Reason)),
	)

	if g.auditor != nil {
		g.auditor.Log(audit.Event{
			ID:          uuid.New().String(),
			TraceID:     traceID,
			Transport:   in.Transport,
			ToolID:      in.ToolID,
			CallerAppID: appID,
			Purpose:     in.Purpose,
			Allowed:     decision.Allowed,
			Reason:      string(decision.Reason),
			ErrorType:   errType,
			Timestamp:   start,
			DurationUs:  took.Microseconds(),
		})
	}
	return decision
}

func identityErrorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingCredential):
		return ErrTypeMissingCredential
	case auth.IsVerificationFailure(err):
		return ErrTypeVerificationFailed
	default:
		return ErrTypeIdentityUnresolved
	}
}

// decisionBody единственное поле тела, которое нас интересует. Остальное игнорируется.
type decisionBody struct {
	Tool string `json:"tool"`
}

// HandleHTTPRequest обслуживает POST /v1/decide и POST /v1/tools/{tool}.
// Порядок: тело -> x-purpose -> identity -> PDP.
func (g *Gateway) HandleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBodyBytes))
	defer r.Body.Close()

	// Клиент ушел, пока мы читали тело - решение никому не нужно, ничего не пишем и не аудируем
	if ctx.Err() != nil {
		g.logger.Debug("client disconnected before decision", zap.String("trace_id", extractTraceID(ctx)))
		return
	}

	payload, malformed := parseBody(body, readErr)

	// Маршрут /v1/tools/{tool}: инструмент задан путем, тело не смотрим
	if tool := chi.URLParam(r, "tool"); tool != "" {
		payload.Tool = tool
	}

	decision := g.Evaluate(ctx, Input{
		ToolID:        payload.Tool,
		Authorization: r.Header.Get("Authorization"),
		Purpose:       r.Header.Get(PurposeHeader),
		Malformed:     malformed,
		Transport:     TransportHTTP,
	})

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusForbidden
	}
	writeJSON(w, status, decision)
}

// parseBody пустое тело - это {}. Нечитаемое, слишком большое или не-объект - тоже {}, но malformed.
func parseBody(body []byte, readErr error) (decisionBody, bool) {
	var payload decisionBody
	if readErr != nil {
		return payload, true
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return payload, false
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		// При ошибке типа json успевает заполнить часть полей - сбрасываем
		return decisionBody{}, true
	}
	return payload, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
