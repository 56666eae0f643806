package saga

// Notifier receives saga progress events. Implementations must not block:
// the coordinator calls Notify inline at every transition.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// multiNotifier fans an event out to several notifiers.
type multiNotifier []Notifier

func (m multiNotifier) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// CombineNotifiers merges notifiers, skipping nils.
func CombineNotifiers(notifiers ...Notifier) Notifier {
	var out multiNotifier
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
