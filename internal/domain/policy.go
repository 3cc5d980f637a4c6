package domain

// ToolPolicy правило доступа к одному инструменту (tool), которое агент может вызвать.
// Создается один раз при старте из конфигурации и больше не меняется.
type ToolPolicy struct {
	ToolID string `json:"tool" mapstructure:"tool"`

	// Пустое множество - валидное, но жесткое состояние: никому нельзя.
	AllowedCallerAppIDs map[string]struct{} `json:"allowed_apps"`

	// Сравнивается с заголовком x-purpose байт в байт (регистр важен)
	RequiredPurpose string `json:"purpose" mapstructure:"purpose"`
}

// NewToolPolicy собирает политику из списка app id.
func NewToolPolicy(toolID, purpose string, appIDs ...string) ToolPolicy {
	set := make(map[string]struct{}, len(appIDs))
	for _, id := range appIDs {
		set[id] = struct{}{}
	}
	return ToolPolicy{
		ToolID:              toolID,
		AllowedCallerAppIDs: set,
		RequiredPurpose:     purpose,
	}
}

// Permits проверяет членство вызывающего приложения в белом списке.
// Отсутствующая идентичность (пустая строка) не совпадает ни с чем.
func (p ToolPolicy) Permits(callerAppID string) bool {
	if callerAppID == "" {
		return false
	}
	_, ok := p.AllowedCallerAppIDs[callerAppID]
	return ok
}
