package tracking

import (
	"testing"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Supplier struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

type Shop struct {
	ID        uint `gorm:"primaryKey"`
	Name      string
	Suppliers []*Supplier `gorm:"many2many:shop_suppliers"`
}

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	registry := metadata.NewRegistry(nil, 2)
	for _, entity := range []interface{}{&Supplier{}, &Shop{}} {
		_, err := registry.Register(entity)
		require.NoError(t, err)
	}
	return New(registry, nil)
}

func TestTracker_AttachRejectsSecondInstance(t *testing.T) {
	tracker := newTracker(t)
	first := &Supplier{ID: 1, Name: "Acme"}
	require.NoError(t, tracker.Attach(first))
	require.NoError(t, tracker.Attach(first))
	assert.Equal(t, 1, tracker.Attaches())

	err := tracker.Attach(&Supplier{ID: 1, Name: "Acme copy"})
	assert.ErrorIs(t, err, errs.ErrAlreadyTracked)

	resolver, err := tracker.ResolverFor(first)
	require.NoError(t, err)
	assert.True(t, tracker.IsTracked(&Supplier{ID: 1}, resolver))
	assert.False(t, tracker.IsTracked(&Supplier{ID: 2}, resolver))

	tracker.ClearTracking()
	assert.False(t, tracker.IsTracked(first, resolver))
	require.NoError(t, tracker.Attach(&Supplier{ID: 1, Name: "Acme copy"}))
}

func TestTracker_KeylessEntitiesTrackByReference(t *testing.T) {
	tracker := newTracker(t)
	a, b := &Supplier{Name: "New"}, &Supplier{Name: "New"}
	require.NoError(t, tracker.Add(a))
	require.NoError(t, tracker.Add(b))
	assert.Len(t, tracker.Entries(), 2)
	assert.Equal(t, Added, tracker.Entries()[0].State)

	assert.ErrorIs(t, tracker.Add(Supplier{Name: "value"}), errs.ErrInvalidArgument)
}

func TestTracker_SetCurrentValuesMarksModified(t *testing.T) {
	tracker := newTracker(t)
	shop := &Shop{ID: 1, Name: "Corner"}
	require.NoError(t, tracker.Attach(shop))

	require.NoError(t, tracker.SetCurrentValues(shop, &Shop{ID: 1, Name: "Market"}))
	assert.Equal(t, "Market", shop.Name)
	assert.Equal(t, Modified, tracker.Entries()[0].State)

	tracker.NavigationChanged(shop, "Suppliers")
	tracker.NavigationChanged(shop, "Suppliers")
	assert.Equal(t, []string{"Suppliers"}, tracker.Entries()[0].Navigations)
}

func TestTracker_AcceptChanges(t *testing.T) {
	tracker := newTracker(t)
	kept := &Supplier{ID: 1}
	removed := &Supplier{ID: 2}
	require.NoError(t, tracker.Add(kept))
	require.NoError(t, tracker.Attach(removed))
	require.NoError(t, tracker.Remove(removed))
	assert.Equal(t, Deleted, tracker.Entries()[1].State)

	tracker.AcceptChanges()
	require.Len(t, tracker.Entries(), 1)
	assert.Same(t, kept, tracker.Entries()[0].Entity)
	assert.Equal(t, Unchanged, tracker.Entries()[0].State)
}

func TestTracker_TrackGraph(t *testing.T) {
	tracker := newTracker(t)
	shared := &Supplier{ID: 1, Name: "Acme"}
	require.NoError(t, tracker.Attach(shared))

	shop := &Shop{ID: 1, Name: "Corner", Suppliers: []*Supplier{{ID: 1, Name: "Acme"}, {ID: 2, Name: "Brix"}}}
	d, err := tracker.Registry().DescribeValue(shop)
	require.NoError(t, err)
	require.NoError(t, tracker.TrackGraph(d, shop))

	assert.Len(t, tracker.Entries(), 3)
	resolver, err := tracker.ResolverFor(shared)
	require.NoError(t, err)
	assert.Same(t, shared, tracker.Lookup(&Supplier{ID: 1}, resolver).Entity)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "modified", Modified.String())
	assert.Equal(t, "deleted", Deleted.String())
}
