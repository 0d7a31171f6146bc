package zhmc

import (
	"context"
)

// Type-specific operations are free functions over the generic resource
// handle, not methods of per-type wrapper classes. Each is a thin wrapper
// that posts a request body and resolves the asynchronous job started by
// the HMC, relying on the session's job poller.

// StartPartition starts a stopped partition. The call returns once the
// start job completes.
func StartPartition(ctx context.Context, p *Resource) error {
	if p.Ceased() {
		return ErrCeased.Msg("partition has ceased to exist")
	}
	_, err := p.manager.client.session.Post(ctx, p.URI()+"/operations/start", nil)
	return err
}

// StopPartition stops an active partition. The call returns once the stop
// job completes.
func StopPartition(ctx context.Context, p *Resource) error {
	if p.Ceased() {
		return ErrCeased.Msg("partition has ceased to exist")
	}
	_, err := p.manager.client.session.Post(ctx, p.URI()+"/operations/stop", nil)
	return err
}

// AttachStorageGroup attaches a storage group to a partition.
func AttachStorageGroup(ctx context.Context, p *Resource, sgURI string) error {
	if p.Ceased() {
		return ErrCeased.Msg("partition has ceased to exist")
	}
	body := map[string]any{"storage-group-uri": sgURI}
	_, err := p.manager.client.session.Post(ctx, p.URI()+"/operations/attach-storage-group", body)
	return err
}

// DetachStorageGroup detaches a storage group from a partition.
func DetachStorageGroup(ctx context.Context, p *Resource, sgURI string) error {
	if p.Ceased() {
		return ErrCeased.Msg("partition has ceased to exist")
	}
	body := map[string]any{"storage-group-uri": sgURI}
	_, err := p.manager.client.session.Post(ctx, p.URI()+"/operations/detach-storage-group", body)
	return err
}
