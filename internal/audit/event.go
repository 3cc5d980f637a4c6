package audit

import "time"

// Event запись аудита одного решения. Токен и claims сюда не попадают никогда.
type Event struct {
	ID          string `json:"id"`            // UUID события
	TraceID     string `json:"trace_id"`      // Сквозной ID запроса
	Transport   string `json:"transport"`     // "http" или "grpc"
	ToolID      string `json:"tool"`          // Что хотели вызвать
	CallerAppID string `json:"caller_app_id"` // Кто (пусто, если идентичность не установлена)
	Purpose     string `json:"purpose"`       // Заявленная цель

	// Результат
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason"`     // Код, ушедший клиенту
	ErrorType  string    `json:"error_type"` // Внутренняя таксономия: malformed_request, verification_failed...
	Timestamp  time.Time `json:"timestamp"`
	DurationUs int64     `json:"duration_us"`
}
