package runtime

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/postengine/internal/outbox"
)

// Reconcile drains any outbox entries left pending from a previous
// process's crash before the runtime starts accepting new inbound
// messages, so a crash mid-dispatch does not strand an outbound effect
// indefinitely.
func Reconcile(ctx context.Context, dispatcher *outbox.Dispatcher) error {
	log.Info().Msg("reconciling undrained outbox entries from previous run")
	if err := dispatcher.DrainOnce(ctx); err != nil {
		return err
	}
	log.Info().Msg("reconciliation complete")
	return nil
}
