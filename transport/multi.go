package transport

import (
	"go.uber.org/multierr"

	iface "FaceMocap/interface"
)

// MultiSink sends every frame to all sinks; one failing sink does not stop
// the others.
type MultiSink []iface.Sink

func (m MultiSink) Send(features iface.FeatureSet) error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.Send(features))
	}
	return errs
}

func (m MultiSink) Close() error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}
