package breaker

import (
	"github.com/rs/zerolog"
)

// Observer is notified synchronously on every state transition, while the
// breaker's lock is held. Implementations must not call back into the breaker.
type Observer interface {
	OnStateChange(name string, from, to State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(name string, from, to State)

// OnStateChange calls f.
func (f ObserverFunc) OnStateChange(name string, from, to State) {
	f(name, from, to)
}

// LogObserver logs transitions. Opening is a warning, everything else info.
type LogObserver struct {
	Logger zerolog.Logger
}

// OnStateChange logs the transition.
func (o LogObserver) OnStateChange(name string, from, to State) {
	event := o.Logger.Info()
	if to == StateOpen {
		event = o.Logger.Warn()
	}
	event.
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")
}

type multiObserver []Observer

func (m multiObserver) OnStateChange(name string, from, to State) {
	for _, o := range m {
		o.OnStateChange(name, from, to)
	}
}

// Observers fans out transitions to several observers in order.
func Observers(observers ...Observer) Observer {
	return multiObserver(observers)
}
