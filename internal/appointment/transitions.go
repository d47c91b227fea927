package appointment

// Effect is a side effect attached to a transition edge.
type Effect uint8

const (
	// EffectNotify writes a durable notification for the counter-party and
	// pushes it in real time.
	EffectNotify Effect = 1 << iota
	// EffectStatusMail mails the counter-party about the new status.
	EffectStatusMail
	// EffectConfirmationMail mails the patient a confirmation with a QR code.
	EffectConfirmationMail
	// EffectPaymentGuard refuses the edge when the appointment is paid.
	EffectPaymentGuard
)

func (e Effect) Has(f Effect) bool {
	return e&f != 0
}

type edgeKey struct {
	from, to Kind
}

// edges is the complete set of legal status changes. Anything missing is
// refused, including moves that keep the status unchanged.
var edges = map[edgeKey]Effect{
	{KindPending, KindConfirmed}:   EffectNotify | EffectConfirmationMail,
	{KindPending, KindCancelled}:   EffectNotify | EffectStatusMail | EffectPaymentGuard,
	{KindConfirmed, KindCancelled}: EffectNotify | EffectStatusMail | EffectPaymentGuard,
	{KindConfirmed, KindClosed}:    EffectNotify | EffectStatusMail,
}

// Transition reports the effects of moving from one status to another and
// whether the move is allowed at all.
func Transition(from, to Status) (Effect, bool) {
	e, ok := edges[edgeKey{from.Kind(), to.Kind()}]
	return e, ok
}
