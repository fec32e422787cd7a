package connection

// Observer receives lifecycle and diagnostic notifications. Calls are
// made in order, one at a time, never while the client's lock is held, so
// an Observer may call back into the Client.
type Observer interface {
	// StateChanged is called after every state transition.
	StateChanged(ev StateEvent)

	// Error receives ConnectError, CloseError, DecodeError, HandlerError
	// and, once per exhausted session, ErrReconnectExhausted.
	Error(err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStateChange func(StateEvent)
	OnError       func(error)
}

func (o ObserverFuncs) StateChanged(ev StateEvent) {
	if o.OnStateChange != nil {
		o.OnStateChange(ev)
	}
}

func (o ObserverFuncs) Error(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

type nopObserver struct{}

func (nopObserver) StateChanged(StateEvent) {}
func (nopObserver) Error(error)             {}
