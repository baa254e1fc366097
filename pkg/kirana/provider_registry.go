package kirana

import (
	"fmt"
	"strings"

	"github.com/adiwarsita/kirana/pkg/adapters/player"
	"github.com/adiwarsita/kirana/pkg/adapters/recognizer"
)

type RecognizerFactory func(cfg Config, rc recognizer.Config) (recognizer.StreamingRecognizer, error)
type PlayerFactory func(cfg Config, sessionID string) (player.Player, error)

// ProviderRegistry maps vendor names from config to adapter constructors.
type ProviderRegistry struct {
	recognizers map[string]RecognizerFactory
	players     map[string]PlayerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		recognizers: make(map[string]RecognizerFactory),
		players:     make(map[string]PlayerFactory),
	}
}

func (r *ProviderRegistry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.recognizers[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterPlayer(name string, factory PlayerFactory) {
	r.players[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildRecognizer(provider string, cfg Config, rc recognizer.Config) (recognizer.StreamingRecognizer, error) {
	fn := r.recognizers[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("recognizer provider not registered: %s", provider)
	}
	return fn(cfg, rc)
}

func (r *ProviderRegistry) BuildPlayer(provider string, cfg Config, sessionID string) (player.Player, error) {
	fn := r.players[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("player provider not registered: %s", provider)
	}
	return fn(cfg, sessionID)
}
