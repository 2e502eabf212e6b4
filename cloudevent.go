package modelsync

import (
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvents extension attribute names. Extension names must be lowercase
// alphanumeric per the CloudEvents spec, which is why these differ from the
// Go field names they carry.
const (
	extensionMutationID = "mutationid"
	extensionSequenceID = "sequenceid"
	extensionRejected   = "rejected"
)

// EncodeEvent converts event into a CloudEvents envelope for transmission
// over a Transport, grounded on the teacher's use of cloudevents.Event as
// the Observer/Subject notification envelope (observer.go) and generalised
// here to the wire boundary itself (§10.1). source is typically the owning
// Model's channel name. If event.MutationID is empty, a fresh one is
// generated so every optimistic event can be correlated with its eventual
// confirmation.
func EncodeEvent(source string, event Event) (cloudevents.Event, error) {
	mutationID := event.MutationID
	if mutationID == "" {
		mutationID = uuid.New().String()
	}

	ce := cloudevents.NewEvent()
	ce.SetID(mutationID)
	ce.SetSource(source)
	ce.SetType(event.Name)
	ce.SetExtension(extensionMutationID, mutationID)

	if event.Data != nil {
		if err := ce.SetData(cloudevents.ApplicationJSON, event.Data); err != nil {
			return cloudevents.Event{}, fmt.Errorf("modelsync: encode event data: %w", err)
		}
	}
	return ce, nil
}

// DecodeEvent reverses EncodeEvent.
func DecodeEvent(ce cloudevents.Event) (Event, error) {
	mutationID, err := stringExtension(ce, extensionMutationID)
	if err != nil {
		mutationID = ce.ID()
	}

	var data any
	if len(ce.Data()) > 0 {
		if err := ce.DataAs(&data); err != nil {
			return Event{}, fmt.Errorf("modelsync: decode event data: %w", err)
		}
	}

	return Event{MutationID: mutationID, Name: ce.Type(), Data: data}, nil
}

// EncodeConfirmedEvent converts a ConfirmedEvent into its CloudEvents wire
// form, additionally stamping the sequenceid and rejected extensions a
// Stream needs to resume replay and detect server rejection.
func EncodeConfirmedEvent(source string, event ConfirmedEvent) (cloudevents.Event, error) {
	ce, err := EncodeEvent(source, event.Event)
	if err != nil {
		return cloudevents.Event{}, err
	}
	ce.SetExtension(extensionSequenceID, event.SequenceID)
	ce.SetExtension(extensionRejected, event.Rejected)
	return ce, nil
}

// DecodeConfirmedEvent reverses EncodeConfirmedEvent.
func DecodeConfirmedEvent(ce cloudevents.Event) (ConfirmedEvent, error) {
	event, err := DecodeEvent(ce)
	if err != nil {
		return ConfirmedEvent{}, err
	}

	sequenceID, err := stringExtension(ce, extensionSequenceID)
	if err != nil {
		return ConfirmedEvent{}, fmt.Errorf("%w: confirmed event missing sequenceid extension", ErrInvalidArgument)
	}

	rejected, _ := boolExtension(ce, extensionRejected)
	return ConfirmedEvent{Event: event, SequenceID: sequenceID, Rejected: rejected}, nil
}

// EncodeOptimisticEvent converts an OptimisticEvent into its CloudEvents
// wire form. TimeoutMS is local bookkeeping only and is not transmitted.
func EncodeOptimisticEvent(source string, event OptimisticEvent) (cloudevents.Event, error) {
	return EncodeEvent(source, event.Event)
}

func stringExtension(ce cloudevents.Event, name string) (string, error) {
	raw, ok := ce.Extensions()[name]
	if !ok {
		return "", fmt.Errorf("missing extension %q", name)
	}
	s := fmt.Sprint(raw)
	if s == "" {
		return "", fmt.Errorf("empty extension %q", name)
	}
	return s, nil
}

func boolExtension(ce cloudevents.Event, name string) (bool, error) {
	raw, ok := ce.Extensions()[name]
	if !ok {
		return false, fmt.Errorf("missing extension %q", name)
	}
	if b, ok := raw.(bool); ok {
		return b, nil
	}
	return fmt.Sprint(raw) == "true", nil
}
