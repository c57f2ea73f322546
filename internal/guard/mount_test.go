package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.jw6.us/james/gamereview/internal/identity"
)

func next(t *testing.T, m *Mounted) Decision {
	t.Helper()
	select {
	case d := <-m.Decisions():
		return d
	case <-time.After(time.Second):
		t.Fatal("no decision delivered")
		return Decision{}
	}
}

func TestMountStartsLoadingThenFollowsState(t *testing.T) {
	s, fc := newStore(t)
	m := Mount(s, "/myreviews")
	defer m.Close()

	assert.Equal(t, Loading, next(t, m).Outcome)

	fc.Emit(identity.SignedIn(ada))
	assert.Equal(t, Allow, next(t, m).Outcome)
	assert.Equal(t, Allow, m.Current().Outcome)
}

// A page showing protected content is redirected once the session signs out.
func TestMountRedirectsOnSignOut(t *testing.T) {
	s, fc := newStore(t)
	fc.Emit(identity.SignedIn(ada))
	m := Mount(s, "/myreviews")
	defer m.Close()
	require.Equal(t, Allow, next(t, m).Outcome)

	fc.Emit(identity.SignedOut())
	d := next(t, m)
	assert.Equal(t, Redirect, d.Outcome)
	assert.Equal(t, SignInPath, d.Location)

	p, ok := s.PeekPendingRedirect()
	require.True(t, ok)
	assert.Equal(t, "/myreviews", p.TargetPath)
}

func TestMountDropsDuplicateDecisions(t *testing.T) {
	s, fc := newStore(t)
	fc.Emit(identity.SignedIn(ada))
	m := Mount(s, "/myreviews")
	defer m.Close()
	require.Equal(t, Allow, next(t, m).Outcome)

	fc.Emit(identity.SignedIn(ada))
	select {
	case d := <-m.Decisions():
		t.Fatalf("unexpected decision %v", d.Outcome)
	default:
	}
}

func TestMountKeepsLatestUndelivered(t *testing.T) {
	s, fc := newStore(t)
	m := Mount(s, "/myreviews")
	defer m.Close()

	fc.Emit(identity.SignedIn(ada))
	fc.Emit(identity.SignedOut())

	d := next(t, m)
	assert.Equal(t, Redirect, d.Outcome, "older undelivered decisions are replaced")
	select {
	case extra := <-m.Decisions():
		t.Fatalf("unexpected decision %v", extra.Outcome)
	default:
	}
}

func TestMountCloseStopsUpdates(t *testing.T) {
	s, fc := newStore(t)
	m := Mount(s, "/myreviews")
	require.Equal(t, Loading, next(t, m).Outcome)

	m.Close()
	m.Close()
	fc.Emit(identity.SignedOut())
	select {
	case d := <-m.Decisions():
		t.Fatalf("decision after close: %v", d.Outcome)
	default:
	}
	_, ok := s.PeekPendingRedirect()
	assert.False(t, ok)
}
