// Package ingest merges one or two feed channels into a single sample stream.
//
// The primary channel subscribes on the VPCA path and is the only one that
// accepts parameter writes. The secondary channel subscribes on the CHAT path
// and is read-only. A channel is omitted when its group is empty; configuring
// neither fails construction with an error wrapping errors.ErrConfiguration.
//
// Consumers attach with Subscribe and receive samples that arrive afterwards.
// Delivery blocks on a slow subscriber, so subscriptions should be drained
// promptly. When one channel exhausts its retry budget only that channel is
// dropped (logged at warn, counted in channels_dropped_total) and the layer
// reports degraded; every subscription is closed once no channel remains or
// the layer is stopped.
//
//	layer, err := ingest.New(ingest.Config{
//	    Host:    "feed.local:8080",
//	    Primary: ingest.ChannelConfig{Group: "G1"},
//	    MaxRate: 10,
//	})
//	if err != nil {
//	    return err
//	}
//	sub := layer.Subscribe(64)
//	if err := layer.Start(ctx); err != nil {
//	    return err
//	}
//	for sample := range sub.Samples() {
//	    ...
//	}
//
// WriteParameter encodes a WSP request and queues it on the primary channel;
// queued writes survive reconnects.
package ingest
