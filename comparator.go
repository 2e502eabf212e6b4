package modelsync

// Comparator decides whether a ConfirmedEvent settles a given
// OptimisticEvent. The default (see DefaultComparator) matches purely by
// MutationID equality; a caller may plug in a stricter comparator (e.g.
// matching on channel, name and a deep-equal of data) without touching the
// Model or PendingConfirmationRegistry.
type Comparator interface {
	Matches(optimistic OptimisticEvent, confirmed ConfirmedEvent) bool
}

// ComparatorFunc adapts a function to the Comparator interface.
type ComparatorFunc func(optimistic OptimisticEvent, confirmed ConfirmedEvent) bool

// Matches implements Comparator.
func (f ComparatorFunc) Matches(optimistic OptimisticEvent, confirmed ConfirmedEvent) bool {
	return f(optimistic, confirmed)
}

// mutationIDComparator is the default Comparator: a ConfirmedEvent
// settles an OptimisticEvent sharing the same MutationID.
var mutationIDComparator Comparator = ComparatorFunc(func(optimistic OptimisticEvent, confirmed ConfirmedEvent) bool {
	return optimistic.MutationID != "" && optimistic.MutationID == confirmed.MutationID
})

// DefaultComparator returns the library's default mutationId-equality
// Comparator.
func DefaultComparator() Comparator {
	return mutationIDComparator
}
