package modelsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/modelsync/modelsync/internal/memtransport"
)

// modelBDDContext carries scenario state across step definitions, in the
// teacher's EventBusBDDTestContext style (modules/eventbus's BDD suite):
// one struct per scenario run, reset at the top of the Background step.
type modelBDDContext struct {
	mu sync.Mutex

	transport    *memtransport.Transport
	model        *Model[record]
	lastErr      error
	confirmation *Confirmation
	cancel       Cancel
}

func (c *modelBDDContext) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = memtransport.New("connected")
	c.model = nil
	c.lastErr = nil
	c.confirmation = nil
	c.cancel = nil
}

func (c *modelBDDContext) iHaveAReadyModelSyncedFrom(name, email string) error {
	c.reset()
	opts := testOptions()
	m := NewModel(ModelSpec[record]{
		Name:        "contact",
		ChannelName: "contact-channel",
		Sync:        snapshotRecord(record{"name": name, "email": email}, "1"),
		Merge:       mergeRecord,
	}, c.transport, opts, nil, nil)

	if err := m.Sync(context.Background()); err != nil {
		return err
	}
	c.model = m
	return nil
}

func (c *modelBDDContext) iApplyAnOptimisticEventWithMutationID(mutationID string) error {
	confirmation, cancel, err := c.model.Optimistic(context.Background(), Event{
		MutationID: mutationID,
		Name:       "update",
		Data:       record{"foo": 34},
	}, nil)
	if err != nil {
		return err
	}
	c.confirmation = confirmation
	c.cancel = cancel
	return nil
}

func (c *modelBDDContext) iApplyAnOptimisticEventWithMutationIDAndTimeoutMs(mutationID string, timeoutMs int) error {
	confirmation, cancel, err := c.model.Optimistic(context.Background(), Event{
		MutationID: mutationID,
		Name:       "update",
		Data:       record{"foo": 1},
	}, map[string]any{"timeoutMs": int64(timeoutMs)})
	if err != nil {
		return err
	}
	c.confirmation = confirmation
	c.cancel = cancel
	return nil
}

func (c *modelBDDContext) theServerConfirmsMutationID(mutationID string) error {
	c.transport.Publish(context.Background(), "contact-channel", ConfirmedEvent{
		Event:      Event{MutationID: mutationID, Name: "update", Data: record{"foo": 34}},
		SequenceID: "2",
	})
	return nil
}

func (c *modelBDDContext) theServerRejectsMutationID(mutationID string) error {
	c.transport.Publish(context.Background(), "contact-channel", ConfirmedEvent{
		Event:      Event{MutationID: mutationID},
		SequenceID: "2",
		Rejected:   true,
	})
	return nil
}

func (c *modelBDDContext) anUnrelatedConfirmedEventArrivesWithMutationID(mutationID string) error {
	c.transport.Publish(context.Background(), "contact-channel", ConfirmedEvent{
		Event:      Event{MutationID: mutationID, Data: record{"comment": "hi"}},
		SequenceID: "2",
	})
	return nil
}

func (c *modelBDDContext) theConfirmationShouldSettleWithin(seconds int) error {
	select {
	case <-c.confirmation.Done:
		return nil
	case <-time.After(time.Duration(seconds) * time.Second):
		return fmt.Errorf("confirmation did not settle within %ds", seconds)
	}
}

func (c *modelBDDContext) theConfirmationErrorShouldBe(expected string) error {
	err := c.confirmation.Err()
	switch expected {
	case "none":
		if err != nil {
			return fmt.Errorf("expected no error, got %v", err)
		}
	case "rejected":
		if err != ErrRejected {
			return fmt.Errorf("expected ErrRejected, got %v", err)
		}
	case "timeout":
		if err != ErrConfirmationTimeout {
			return fmt.Errorf("expected ErrConfirmationTimeout, got %v", err)
		}
	default:
		return fmt.Errorf("unknown expected error %q", expected)
	}
	return nil
}

func (c *modelBDDContext) theOptimisticAndConfirmedProjectionsShouldConverge() error {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		data := c.model.Data()
		if fmt.Sprint(data.Confirmed) == fmt.Sprint(data.Optimistic) {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("optimistic and confirmed never converged")
}

func (c *modelBDDContext) theChannelHasMessagesRetainedFromSequenceOnwardsWithPageSize(from, pageSize int) error {
	c.reset()
	for i := from; i <= 7; i++ {
		c.transport.Publish(context.Background(), "gap-channel", ConfirmedEvent{
			Event:      Event{Name: "n"},
			SequenceID: fmt.Sprintf("%d", i),
		})
	}
	opts := testOptions()
	opts.SyncOptions.HistoryPageSize = pageSize
	c.model = NewModel(ModelSpec[record]{
		Name:        "gap",
		ChannelName: "gap-channel",
		Sync:        snapshotRecord(record{}, "1"),
		Merge:       mergeRecord,
	}, c.transport, opts, nil, nil)
	return nil
}

func (c *modelBDDContext) iSyncTheModel() error {
	c.lastErr = c.model.Sync(context.Background())
	return nil
}

func (c *modelBDDContext) syncShouldFailWith(expected string) error {
	if c.lastErr == nil {
		return fmt.Errorf("expected sync to fail, it succeeded")
	}
	switch expected {
	case "insufficient history":
		if !errors.Is(c.lastErr, ErrInsufficientHistory) {
			return fmt.Errorf("expected ErrInsufficientHistory, got %v", c.lastErr)
		}
	default:
		return fmt.Errorf("unknown expected failure %q", expected)
	}
	return nil
}

func (c *modelBDDContext) theModelStateShouldBe(expected string) error {
	if string(c.model.State()) != expected {
		return fmt.Errorf("expected state %q, got %q", expected, c.model.State())
	}
	return nil
}

func (c *modelBDDContext) theTransportConnectionBecomesSuspendedThenReconnects() error {
	c.transport.SetState("suspended")
	c.transport.SetState("connected")
	return nil
}

func (c *modelBDDContext) theModelShouldResyncAndReachStateWithin(expected string, seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	for time.Now().Before(deadline) {
		if c.model.SyncCount() == 2 && string(c.model.State()) == expected {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("model did not resync to %q within %ds (syncCount=%d, state=%s)", expected, seconds, c.model.SyncCount(), c.model.State())
}

func TestModelSyncScenarios(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sctx *godog.ScenarioContext) {
			c := &modelBDDContext{}

			sctx.Given(`^I have a ready model synced from name "([^"]*)" and email "([^"]*)"$`, c.iHaveAReadyModelSyncedFrom)
			sctx.When(`^I apply an optimistic event with mutation id "([^"]*)"$`, c.iApplyAnOptimisticEventWithMutationID)
			sctx.When(`^I apply an optimistic event with mutation id "([^"]*)" and timeoutMs (\d+)$`, c.iApplyAnOptimisticEventWithMutationIDAndTimeoutMs)
			sctx.When(`^the server confirms mutation id "([^"]*)"$`, c.theServerConfirmsMutationID)
			sctx.When(`^the server rejects mutation id "([^"]*)"$`, c.theServerRejectsMutationID)
			sctx.When(`^an unrelated confirmed event arrives with mutation id "([^"]*)"$`, c.anUnrelatedConfirmedEventArrivesWithMutationID)
			sctx.Then(`^the confirmation should settle within (\d+) seconds?$`, c.theConfirmationShouldSettleWithin)
			sctx.Then(`^the confirmation error should be "([^"]*)"$`, c.theConfirmationErrorShouldBe)
			sctx.Then(`^the optimistic and confirmed projections should converge$`, c.theOptimisticAndConfirmedProjectionsShouldConverge)

			sctx.Given(`^the channel has messages retained from sequence (\d+) onwards with page size (\d+)$`, c.theChannelHasMessagesRetainedFromSequenceOnwardsWithPageSize)
			sctx.When(`^I sync the model$`, c.iSyncTheModel)
			sctx.Then(`^sync should fail with "([^"]*)"$`, c.syncShouldFailWith)
			sctx.Then(`^the model state should be "([^"]*)"$`, c.theModelStateShouldBe)

			sctx.When(`^the transport connection becomes suspended then reconnects$`, c.theTransportConnectionBecomesSuspendedThenReconnects)
			sctx.Then(`^the model should resync and reach state "([^"]*)" within (\d+) seconds$`, c.theModelShouldResyncAndReachStateWithin)
		},
		Options: &godog.Options{
			Format: "pretty",
			FeatureContents: []godog.Feature{
				{Name: "optimistic-then-confirm.feature", Contents: []byte(featureOptimisticThenConfirm)},
				{Name: "server-rejection.feature", Contents: []byte(featureServerRejection)},
				{Name: "confirmation-timeout.feature", Contents: []byte(featureConfirmationTimeout)},
				{Name: "rebase.feature", Contents: []byte(featureRebase)},
				{Name: "insufficient-history.feature", Contents: []byte(featureInsufficientHistory)},
				{Name: "discontinuity-resync.feature", Contents: []byte(featureDiscontinuityResync)},
			},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run model sync scenarios")
	}
}

const featureOptimisticThenConfirm = `
Feature: Happy-path optimistic update then server confirmation
  Scenario: A locally-applied mutation is confirmed by the server
    Given I have a ready model synced from name "John" and email "j@x"
    When I apply an optimistic event with mutation id "m1"
    And the server confirms mutation id "m1"
    Then the confirmation should settle within 1 seconds
    And the confirmation error should be "none"
    And the optimistic and confirmed projections should converge
`

const featureServerRejection = `
Feature: Server rejection rolls an optimistic mutation back
  Scenario: A mutation the server declines settles with ErrRejected
    Given I have a ready model synced from name "John" and email "j@x"
    When I apply an optimistic event with mutation id "m1"
    And the server rejects mutation id "m1"
    Then the confirmation should settle within 1 seconds
    And the confirmation error should be "rejected"
    And the optimistic and confirmed projections should converge
`

const featureConfirmationTimeout = `
Feature: Confirmation timeout rolls an optimistic mutation back
  Scenario: A mutation with a short timeout that is never confirmed times out
    Given I have a ready model synced from name "John" and email "j@x"
    When I apply an optimistic event with mutation id "m1" and timeoutMs 10
    Then the confirmation should settle within 1 seconds
    And the confirmation error should be "timeout"
`

const featureRebase = `
Feature: Rebasing optimistic state on an unrelated confirmed event
  Scenario: An unrelated confirmed event does not disturb a pending mutation
    Given I have a ready model synced from name "John" and email "j@x"
    When I apply an optimistic event with mutation id "m1"
    And an unrelated confirmed event arrives with mutation id "m2"
    And the server confirms mutation id "m1"
    Then the confirmation should settle within 1 seconds
    And the optimistic and confirmed projections should converge
`

const featureInsufficientHistory = `
Feature: Sync fails when the snapshot's sequence id has fallen out of retention
  Scenario: The requested sequence id is no longer retained
    Given the channel has messages retained from sequence 2 onwards with page size 2
    When I sync the model
    Then sync should fail with "insufficient history"
    And the model state should be "errored"
`

const featureDiscontinuityResync = `
Feature: A channel discontinuity triggers an automatic resync
  Scenario: The transport connection is suspended then reconnects
    Given I have a ready model synced from name "John" and email "j@x"
    When the transport connection becomes suspended then reconnects
    Then the model should resync and reach state "ready" within 1 seconds
`
