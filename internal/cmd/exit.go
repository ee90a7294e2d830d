package cmd

import (
	stderrors "errors"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/config"
	"github.com/contentmesh/gatekeeper/internal/kv"
	"github.com/contentmesh/gatekeeper/internal/observability"
)

// ExitCodeFor maps a command error to a semantic foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	switch {
	case err == nil:
		return foundry.ExitCode(0)
	case stderrors.Is(err, config.ErrInvalid):
		return foundry.ExitConfigInvalid
	case stderrors.Is(err, kv.ErrNotReady),
		stderrors.Is(err, kv.ErrHealthcheckFailed),
		stderrors.Is(err, errUnhealthy):
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

// exitFields adds, for envelopes, the error code and correlation id so
// operators can match the failure to server logs.
func exitFields(fields []zap.Field, err error) []zap.Field {

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID))
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
	}
	return append(fields, zap.Error(err))
}

// ExitWithCode logs msg and err through logger, then exits. logger may be nil
// before the CLI logger exists.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok || logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}
	logger.Error(msg, exitFields([]zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}, err)...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr writes msg and err to stderr with exit code metadata, then exits.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	observability.Fatal(os.Stderr, exitCode, msg, err)
}
