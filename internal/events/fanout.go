package events

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// Fanout returns a Publisher that publishes every event to all of pubs.
// Every publisher is tried; failures are returned together.
func Fanout(pubs ...Publisher) Publisher {
	return fanout(pubs)
}

type fanout []Publisher

func (f fanout) Publish(ctx context.Context, topic string, event any) error {
	var result *multierror.Error
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (f fanout) Close() error {
	var result *multierror.Error
	for _, p := range f {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
