package overlay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/stretchr/testify/require"
)

type recordingOverlay struct {
	name          string
	requiresAdmin bool
	activateErr   error
	active        bool
	log           *[]string
}

func (o *recordingOverlay) Name() string        { return o.name }
func (o *recordingOverlay) RequiresAdmin() bool { return o.requiresAdmin }

func (o *recordingOverlay) Activate(_ context.Context, surface Surface, store kvstore.Store) error {
	if o.activateErr != nil {
		return o.activateErr
	}
	if surface == nil || store == nil {
		return errors.New("missing collaborators")
	}
	o.active = true
	*o.log = append(*o.log, "activate "+o.name)
	return nil
}

func (o *recordingOverlay) Deactivate(context.Context) error {
	o.active = false
	*o.log = append(*o.log, "deactivate "+o.name)
	return nil
}

func (o *recordingOverlay) Status() Status {
	return Status{Name: o.name, Active: o.active, RequiresAdmin: o.requiresAdmin}
}

type managerFixture struct {
	store   *kvstore.MemoryStore
	manager *Manager
	log     *[]string
}

func newManagerFixture(t *testing.T) managerFixture {
	t.Helper()
	log := &[]string{}
	registry := NewRegistry()
	require.NoError(t, registry.Register("snow", func() Overlay {
		return &recordingOverlay{name: "snow", requiresAdmin: true, log: log}
	}))
	require.NoError(t, registry.Register("confetti", func() Overlay {
		return &recordingOverlay{name: "confetti", log: log}
	}))
	require.NoError(t, registry.Register("broken", func() Overlay {
		return &recordingOverlay{name: "broken", activateErr: errors.New("no canvas"), log: log}
	}))
	store := kvstore.NewMemoryStore()
	manager, err := NewManager(ManagerConfig{
		Registry: registry,
		Store:    store,
		Surface:  NewStaticSurface(1280, 720),
		Clock:    func() time.Time { return time.UnixMilli(1700000000000) },
	})
	require.NoError(t, err)
	return managerFixture{store: store, manager: manager, log: log}
}

func readPointer(t *testing.T, store *kvstore.MemoryStore) (ActiveEvent, bool) {
	t.Helper()
	raw, err := store.Get(context.Background(), kvstore.EventActivePath())
	require.NoError(t, err)
	var pointer ActiveEvent
	found, err := kvstore.Decode(raw, &pointer)
	require.NoError(t, err)
	return pointer, found
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	constructor := func() Overlay { return &recordingOverlay{name: "a", log: &[]string{}} }
	require.NoError(t, registry.Register("b", constructor))
	require.NoError(t, registry.Register("a", constructor))
	require.ErrorIs(t, registry.Register("a", constructor), ErrDuplicateOverlay)
	require.Error(t, registry.Register(" ", constructor))
	require.Equal(t, []string{"a", "b"}, registry.Names())
}

func TestActivatePublishesPointer(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Activate(ctx, "snow", classroom.RoleAdmin))
	require.True(t, f.manager.IsActive("snow"))
	pointer, found := readPointer(t, f.store)
	require.True(t, found)
	require.Equal(t, ActiveEvent{Name: "snow", ActivatedAt: 1700000000000, ActivatedBy: "admin"}, pointer)

	require.NoError(t, f.manager.Activate(ctx, "confetti", classroom.RoleStudent))
	require.Equal(t, []string{"activate snow", "deactivate snow", "activate confetti"}, *f.log)
	require.False(t, f.manager.IsActive("snow"))
	pointer, _ = readPointer(t, f.store)
	require.Equal(t, "confetti", pointer.Name)

	require.NoError(t, f.manager.Deactivate(ctx))
	require.Nil(t, f.manager.Active())
	_, found = readPointer(t, f.store)
	require.False(t, found)
	require.NoError(t, f.manager.Deactivate(ctx), "deactivating twice is a no-op")
}

func TestActivateRejections(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.manager.Activate(ctx, "fireworks", classroom.RoleAdmin), ErrUnknownOverlay)
	require.ErrorIs(t, f.manager.Activate(ctx, "snow", classroom.RoleSubadmin), ErrAdminRequired)
	require.Empty(t, *f.log)

	require.NoError(t, f.manager.Activate(ctx, "confetti", classroom.RoleAdmin))
	require.Error(t, f.manager.Activate(ctx, "broken", classroom.RoleAdmin))
	require.Nil(t, f.manager.Active(), "the previous overlay is gone once a replacement was attempted")
	_, found := readPointer(t, f.store)
	require.False(t, found)
}

func TestActivateKeepsRunningWhenPointerWriteFails(t *testing.T) {
	f := newManagerFixture(t)
	f.store.SetFailure(kvstore.FailWrites(errors.New("offline"), "events"))

	err := f.manager.Activate(context.Background(), "confetti", classroom.RoleAdmin)
	require.ErrorIs(t, err, kvstore.ErrUnavailable)
	require.True(t, f.manager.IsActive("confetti"))
}

func TestRestoreFollowsPointer(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	name, err := f.manager.Restore(ctx)
	require.NoError(t, err)
	require.Empty(t, name)

	require.NoError(t, f.store.Set(ctx, kvstore.EventActivePath(), ActiveEvent{Name: "snow", ActivatedBy: "admin"}))
	name, err = f.manager.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, "snow", name)
	require.True(t, f.manager.IsActive("snow"))

	name, err = f.manager.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, "snow", name)
	require.Equal(t, []string{"activate snow"}, *f.log, "restoring the running overlay does not restart it")

	require.NoError(t, f.store.Set(ctx, kvstore.EventActivePath(), ActiveEvent{Name: "retired"}))
	name, err = f.manager.Restore(ctx)
	require.NoError(t, err)
	require.Empty(t, name)
	require.True(t, f.manager.IsActive("snow"))
}
