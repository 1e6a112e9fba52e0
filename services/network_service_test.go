package services

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.members.Register(ctx, "  Root  ", "")
	require.NoError(t, err)
	assert.Equal(t, "Root", root.DisplayName)
	assert.True(t, root.IsRoot())
	assert.True(t, root.IsActive)
	assert.Len(t, root.ReferralCode, 10)

	child, err := f.members.Register(ctx, "Child", root.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, root.ID, child.SponsorID)
	assert.NotEqual(t, root.ReferralCode, child.ReferralCode)

	_, err = f.members.Register(ctx, "Orphan", "NOPE")
	assert.ErrorIs(t, err, ErrUnknownReferralCode)
}

func TestAttachRejectsCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.chain(t, 3) // c[0] <- c[1] <- c[2]

	tests := []struct {
		name     string
		member   string
		sponsor  string
		reparent bool
	}{
		{"unset sponsor", c[0].ID, "", false},
		{"self", c[0].ID, c[0].ID, false},
		{"direct child", c[0].ID, c[1].ID, false},
		{"grandchild", c[0].ID, c[2].ID, false},
		{"reparent under own descendant", c[1].ID, c[2].ID, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.members.Attach(ctx, tt.member, tt.sponsor, tt.reparent)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCycle)
			var cerr *CycleError
			assert.True(t, errors.As(err, &cerr))
		})
	}

	// Nothing moved.
	got, err := f.members.Member(ctx, c[2].ID)
	require.NoError(t, err)
	assert.Equal(t, c[1].ID, got.SponsorID)
}

func TestAttach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a", nil)
	b := f.register(t, "b", nil)
	x := f.register(t, "x", nil)

	require.NoError(t, f.members.Attach(ctx, x.ID, a.ID, false))

	err := f.members.Attach(ctx, x.ID, b.ID, false)
	assert.ErrorIs(t, err, ErrAlreadyAttached)

	// Repeating the current sponsor is still a reparent request.
	err = f.members.Attach(ctx, x.ID, a.ID, false)
	assert.ErrorIs(t, err, ErrAlreadyAttached)

	require.NoError(t, f.members.Attach(ctx, x.ID, b.ID, true))
	got, err := f.members.Member(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.SponsorID)

	kids, err := f.members.Children(ctx, []string{a.ID})
	require.NoError(t, err)
	assert.Empty(t, kids)

	assert.ErrorIs(t, f.members.Attach(ctx, "missing", a.ID, false), ErrMemberNotFound)
	assert.ErrorIs(t, f.members.Attach(ctx, x.ID, "missing", true), ErrMemberNotFound)
}

func TestAttachConcurrentOppositeDirections(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ctx := context.Background()
		a := f.register(t, "a", nil)
		b := f.register(t, "b", nil)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = f.members.Attach(ctx, a.ID, b.ID, false)
		}()
		go func() {
			defer wg.Done()
			errs[1] = f.members.Attach(ctx, b.ID, a.ID, false)
		}()
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				failures++
				assert.True(t, errors.Is(err, ErrCycle) || errors.Is(err, ErrAlreadyAttached), "unexpected error %v", err)
			}
		}
		require.Equal(t, 1, failures)

		// The forest stays acyclic.
		_, err := f.members.AncestorsOf(a.ID, 10).Collect(ctx)
		require.NoError(t, err)
		_, err = f.members.AncestorsOf(b.ID, 10).Collect(ctx)
		require.NoError(t, err)
	}
}

func TestAncestorsOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.chain(t, 8)
	buyer := c[7]

	it := f.members.AncestorsOf(buyer.ID, 5)
	var got []string
	var levels []int
	for it.Next(ctx) {
		got = append(got, it.Member().ID)
		levels = append(levels, it.Level())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{c[6].ID, c[5].ID, c[4].ID, c[3].ID, c[2].ID}, got)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, levels)

	it.Reset()
	again, err := it.Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 5)

	short, err := f.members.AncestorsOf(c[2].ID, 5).Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, short, 2)

	none, err := f.members.AncestorsOf(c[0].ID, 5).Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.members.AncestorsOf("missing", 5).Collect(ctx)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestAncestorsOfCorruptedChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.chain(t, 4)

	f.network.ForceSponsor(c[1].ID, c[2].ID) // c[1] <-> c[2]
	_, err := f.members.AncestorsOf(c[3].ID, 10).Collect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAncestorResolution)
	var aerr *AncestorResolutionError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "cycle detected", aerr.Reason)

	f.network.ForceSponsor(c[1].ID, "ghost")
	_, err = f.members.AncestorsOf(c[3].ID, 10).Collect(ctx)
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "missing sponsor", aerr.Reason)
}

func TestDescendantsOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.register(t, "root", nil)
	a := f.register(t, "a", root)
	b := f.register(t, "b", root)
	a1 := f.register(t, "a1", a)
	f.register(t, "a2", a)
	f.register(t, "a1x", a1)
	f.register(t, "b1", b)

	set, err := f.members.DescendantsOf(ctx, root.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, set.Count())
	assert.Equal(t, 3, set.Depth())
	assert.False(t, set.Truncated)
	assert.Len(t, set.Levels[0], 2)

	capped, err := f.members.DescendantsOf(ctx, root.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, capped.Count())
	assert.True(t, capped.Truncated)

	leaf, err := f.members.DescendantsOf(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, leaf.Count())
	assert.False(t, leaf.Truncated)

	depth, truncated, err := f.members.DepthOf(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.False(t, truncated)

	_, err = f.members.DescendantsOf(ctx, "missing", 3)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "m", nil)

	off, err := f.members.SetActive(ctx, m.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	require.NotNil(t, off.DeactivatedAt)

	on, err := f.members.SetActive(ctx, m.ID, true)
	require.NoError(t, err)
	assert.True(t, on.IsActive)
	assert.Nil(t, on.DeactivatedAt)

	_, err = f.members.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}
