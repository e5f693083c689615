package service

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// provisionStreams resolves the streams covering subjects, creating the
// service stream for uncovered ones when allowed. The result is
// deduplicated in first-seen order.
func (g *Gateway) provisionStreams(ctx context.Context, subjects []string) ([]string, error) {
	var streams []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			streams = append(streams, name)
		}
	}

	var uncovered []string
	for _, subject := range subjects {
		name, err := g.transport.StreamNameBySubject(ctx, subject)
		switch {
		case err == nil:
			add(name)
		case stderrors.Is(err, errors.ErrStreamNotFound):
			uncovered = append(uncovered, subject)
		default:
			return nil, errors.WrapFatal(err, "Gateway", "provisionStreams", "look up stream for "+subject)
		}
	}

	if len(uncovered) == 0 {
		return streams, nil
	}

	if !g.cfg.AllowCreateServiceStream {
		return nil, errors.WrapFatal(errors.ErrProvisionDenied, "Gateway", "provisionStreams",
			"find streams for subjects "+strings.Join(uncovered, ", "))
	}

	name := g.cfg.ServiceID
	exists, err := g.transport.StreamExists(ctx, name)
	if err != nil {
		return nil, errors.WrapFatal(err, "Gateway", "provisionStreams", "check stream "+name)
	}
	if exists {
		// a stream named after the service covers none of the subjects;
		// extending it is left to an operator
		return nil, errors.WrapFatal(errors.ErrStreamConflict, "Gateway", "provisionStreams",
			"create stream "+name+" for subjects "+strings.Join(uncovered, ", ")+
				" (a stream with that name exists, create one with a different name manually)")
	}

	streamSubjects := collapseSubjects(g.cfg.ServiceID, uncovered)
	if err := g.transport.CreateStream(ctx, name, streamSubjects); err != nil {
		return nil, errors.WrapFatal(err, "Gateway", "provisionStreams", "create stream "+name)
	}
	g.logger.Info("Created service stream", "stream", name, "subjects", streamSubjects)

	add(name)
	return streams, nil
}

// collapseSubjects replaces subjects by "{serviceID}.>" when all of them lie
// in the service namespace.
func collapseSubjects(serviceID string, subjects []string) []string {
	prefix := serviceID + "."
	for _, s := range subjects {
		if !strings.HasPrefix(s, prefix) {
			return subjects
		}
	}
	return []string{prefix + ">"}
}
