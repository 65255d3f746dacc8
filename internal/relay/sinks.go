package relay

import (
	"fmt"
	"log/slog"
	"strings"

	"uptimeline/internal/config"
)

// SinksFromConfig builds the enabled webhook sinks and, when configured, the
// NATS sink. The returned close func releases connections.
func SinksFromConfig(cfg *config.Config, logger *slog.Logger) ([]Sink, func(), error) {
	var sinks []Sink
	closeAll := func() {}
	if cfg == nil {
		return nil, closeAll, nil
	}
	for _, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sinks = append(sinks, NewWebhookSink(hook))
	}
	if url := strings.TrimSpace(cfg.Relay.NATS.URL); url != "" {
		ns, err := DialNATS(url, cfg.Relay.NATS.Subject, logger)
		if err != nil {
			return nil, closeAll, fmt.Errorf("connect nats %s: %w", url, err)
		}
		sinks = append(sinks, ns)
		closeAll = ns.Close
	}
	return sinks, closeAll, nil
}
