package policy

import (
	"github.com/xela07ax/purposegate/internal/domain"
)

// Enforcer - Policy Decision Point. Реализация должна быть чистой функцией от снимка реестра.
type Enforcer interface {
	Decide(req domain.DecisionRequest) domain.Decision
}

// Snapshotter отдает текущий снимок реестра. Реализуют *Store и *StaticSnapshot.
type Snapshotter interface {
	Current() *Registry
}

// PurposeEnforcer проверяет три условия строго по порядку, первое несовпадение определяет причину:
//  1. инструмент известен
//  2. вызывающее приложение в белом списке
//  3. заявленная цель совпадает с требуемой (байт в байт)
//
// Порядок фиксирован: для неизвестного tool мы никогда не раскрываем, пустили бы caller или нет.
type PurposeEnforcer struct {
	registry Snapshotter
}

func NewPurposeEnforcer(registry Snapshotter) *PurposeEnforcer {
	return &PurposeEnforcer{registry: registry}
}

func (e *PurposeEnforcer) Decide(req domain.DecisionRequest) domain.Decision {
	// Берем снимок один раз - весь вердикт считается по одной версии таблицы
	reg := e.registry.Current()
	if reg == nil {
		return domain.Deny(domain.ReasonUnknownTool)
	}

	p, ok := reg.Lookup(req.ToolID)
	if !ok {
		return domain.Deny(domain.ReasonUnknownTool)
	}
	if !p.Permits(req.CallerAppID) {
		return domain.Deny(domain.ReasonCallerNotAllowed)
	}
	if req.DeclaredPurpose != p.RequiredPurpose {
		return domain.Deny(domain.ReasonPurposeMismatch)
	}
	return domain.Allow(req.ToolID, req.DeclaredPurpose)
}

// StaticSnapshot обертка над неизменяемым реестром, когда перезагрузка не нужна (тесты, CLI).
type StaticSnapshot struct {
	Registry *Registry
}

func (s StaticSnapshot) Current() *Registry { return s.Registry }
