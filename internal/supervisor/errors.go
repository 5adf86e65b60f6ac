package supervisor

import (
	"errors"

	"github.com/tkarvone/gsmmuxd/internal/metrics"
)

// ErrModemSetup wraps any failure during the AT-command dialog that brings
// the modem into mux mode.
var ErrModemSetup = errors.New("modem_setup")

func mapErrToMetric(err error) string {
	if errors.Is(err, ErrModemSetup) {
		return metrics.ErrModemSetup
	}
	return "other"
}
