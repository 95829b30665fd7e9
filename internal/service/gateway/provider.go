package gateway

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/paymenttech/payment-processor/internal/domain"
)

// ErrProviderDeclined — платёж отклонён провайдером (эмулируемый сценарий).
var ErrProviderDeclined = errors.New("payment provider declined")

// Outcome — инжектируемая функция решения об исходе платежа.
// nil означает успех. Решение вынесено в явную зависимость, чтобы тесты
// контролировали исход детерминированно.
type Outcome func(event domain.PaymentEvent) error

// SimulatedProvider — эмулятор платёжного провайдера с настраиваемой
// долей успешных проведений.
type SimulatedProvider struct {
	mu      sync.Mutex
	rng     *rand.Rand
	rate    float64
	outcome Outcome // если задана, подменяет случайное решение
}

// ProviderOption настраивает SimulatedProvider.
type ProviderOption func(*SimulatedProvider)

// WithSuccessRate задаёт долю успешных проведений (0..1).
func WithSuccessRate(rate float64) ProviderOption {
	return func(p *SimulatedProvider) {
		if rate >= 0 && rate <= 1 {
			p.rate = rate
		}
	}
}

// WithSeed задаёт seed генератора для воспроизводимых прогонов.
func WithSeed(seed int64) ProviderOption {
	return func(p *SimulatedProvider) {
		p.rng = rand.New(rand.NewSource(seed))
	}
}

// WithOutcome подменяет случайное решение фиксированной функцией.
func WithOutcome(outcome Outcome) ProviderOption {
	return func(p *SimulatedProvider) {
		p.outcome = outcome
	}
}

// NewSimulatedProvider создаёт эмулятор с 95% успешных проведений по умолчанию.
func NewSimulatedProvider(options ...ProviderOption) *SimulatedProvider {
	p := &SimulatedProvider{
		rng:  rand.New(rand.NewSource(rand.Int63())),
		rate: 0.95,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Process принимает решение об исходе платежа.
func (p *SimulatedProvider) Process(event domain.PaymentEvent) error {
	if p.outcome != nil {
		return p.outcome(event)
	}

	p.mu.Lock()
	roll := p.rng.Float64()
	p.mu.Unlock()

	if roll < p.rate {
		return nil
	}
	return ErrProviderDeclined
}

var _ domain.ProcessingGateway = (*SimulatedProvider)(nil)
