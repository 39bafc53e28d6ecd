package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/cache"
	"github.com/glimpse/backend/internal/memstore"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
)

var created = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

type countingUsers struct {
	inner *memstore.Users
	calls int
}

func (c *countingUsers) FindByID(ctx context.Context, id string) (models.User, error) {
	c.calls++
	return c.inner.FindByID(ctx, id)
}

type fixture struct {
	store    *memstore.Store
	users    *countingUsers
	workflow *Workflow
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	if err := store.Users.Create(ctx, models.User{ID: "alice", Email: "alice@example.com", DisplayName: "Alice"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.Users.Create(ctx, models.User{ID: "carol", Email: "carol@example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err := store.Groups.Create(ctx, models.Group{
		ID: "g1", Name: "Hiking crew", CreatedBy: "alice", CreatedAt: created,
		Members: map[string]models.Membership{"alice": {Role: models.RoleAdmin, JoinedAt: created}},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	users := &countingUsers{inner: store.Users}
	w := NewWorkflow(store.Invitations, store.Groups, users, cache.NewMemory(time.Minute), nil)
	w.now = func() time.Time { return created.Add(time.Hour) }
	return fixture{store: store, users: users, workflow: w}
}

func (f fixture) invite(t *testing.T, id, groupID, inviterID string, offset time.Duration) {
	t.Helper()
	err := f.store.Invitations.Create(context.Background(), models.Invitation{
		ID: id, GroupID: groupID, Email: "bob@example.com", InviterID: inviterID,
		Status: models.InvitationPending, CreatedAt: created.Add(offset),
	})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
}

func TestAcceptAddsMembership(t *testing.T) {
	f := newFixture(t)
	f.invite(t, "i1", "g1", "alice", 0)

	resp, err := f.workflow.Respond(context.Background(), "i1", true, "bob")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Invitation.Status != models.InvitationAccepted || resp.Invitation.RespondedAt == nil {
		t.Fatalf("unexpected invitation %+v", resp.Invitation)
	}
	if resp.Group == nil || resp.Group.Members["bob"].Role != models.RoleMember {
		t.Fatalf("expected bob to be a member got %+v", resp.Group)
	}

	ids, _ := f.store.Groups.ListIDsForMember(context.Background(), "bob")
	if len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("expected bob in g1 got %v", ids)
	}
}

func TestAcceptMissingGroupMarksError(t *testing.T) {
	f := newFixture(t)
	f.invite(t, "i1", "gX", "alice", 0)

	_, err := f.workflow.Respond(context.Background(), "i1", true, "bob")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found got %v", err)
	}

	stored, _ := f.store.Invitations.FindByID(context.Background(), "i1")
	if stored.Status != models.InvitationError || stored.Message != "group gX not found" {
		t.Fatalf("unexpected stored invitation %+v", stored)
	}
	ids, _ := f.store.Groups.ListIDsForMember(context.Background(), "bob")
	if len(ids) != 0 {
		t.Fatalf("expected no membership got %v", ids)
	}
}

func TestDecline(t *testing.T) {
	f := newFixture(t)
	f.invite(t, "i1", "g1", "alice", 0)

	resp, err := f.workflow.Respond(context.Background(), "i1", false, "")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if resp.Invitation.Status != models.InvitationDeclined || resp.Group != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	group, _ := f.store.Groups.FindByID(context.Background(), "g1")
	if group.HasMember("bob") {
		t.Fatal("decline must not add a member")
	}
}

func TestTerminalInvitationsNeverChange(t *testing.T) {
	f := newFixture(t)
	f.invite(t, "i1", "g1", "alice", 0)
	if _, err := f.workflow.Respond(context.Background(), "i1", false, ""); err != nil {
		t.Fatalf("decline: %v", err)
	}

	for _, accept := range []bool{true, false} {
		_, err := f.workflow.Respond(context.Background(), "i1", accept, "bob")
		if apperr.KindOf(err) != apperr.KindConflict {
			t.Fatalf("accept=%v: expected conflict got %v", accept, err)
		}
	}
	stored, _ := f.store.Invitations.FindByID(context.Background(), "i1")
	if stored.Status != models.InvitationDeclined {
		t.Fatalf("expected declined to stick got %s", stored.Status)
	}
}

func TestRespondUnknownInvitation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.workflow.Respond(context.Background(), "missing", true, "bob"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found got %v", err)
	}
	if _, err := f.workflow.Respond(context.Background(), "", true, "bob"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation failure got %v", err)
	}
}

type brokenInvitations struct {
	repositories.InvitationRepository
	acceptErr error
	failed    []string
}

func (b *brokenInvitations) Accept(context.Context, string, string, time.Time) (models.Invitation, models.Group, error) {
	return models.Invitation{}, models.Group{}, b.acceptErr
}

func (b *brokenInvitations) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	b.failed = append(b.failed, message)
	return b.InvitationRepository.MarkFailed(ctx, id, message, at)
}

func TestAcceptStoreFailureIsRemote(t *testing.T) {
	f := newFixture(t)
	f.invite(t, "i1", "g1", "alice", 0)
	broken := &brokenInvitations{InvitationRepository: f.store.Invitations, acceptErr: errors.New("write timeout")}
	w := NewWorkflow(broken, f.store.Groups, f.store.Users, nil, nil)

	_, err := w.Respond(context.Background(), "i1", true, "bob")
	if apperr.KindOf(err) != apperr.KindRemote {
		t.Fatalf("expected remote failure got %v", err)
	}
	if len(broken.failed) != 1 || broken.failed[0] != "write timeout" {
		t.Fatalf("expected failure reason to be recorded got %v", broken.failed)
	}
}

func TestAcceptOfVanishedInvitationIsNotBlamedOnGroup(t *testing.T) {
	f := newFixture(t)
	f.invite(t, "i1", "g1", "alice", 0)
	broken := &brokenInvitations{
		InvitationRepository: f.store.Invitations,
		acceptErr:            fmt.Errorf("invitation i1: %w", repositories.ErrNotFound),
	}
	w := NewWorkflow(broken, f.store.Groups, f.store.Users, nil, nil)

	_, err := w.Respond(context.Background(), "i1", true, "bob")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found got %v", err)
	}
	if strings.Contains(err.Error(), "group g1 not found") {
		t.Fatalf("missing invitation reported as missing group: %v", err)
	}
	if len(broken.failed) != 0 {
		t.Fatalf("expected no failure to be recorded got %v", broken.failed)
	}
}

func TestListPendingEnrichesWithFallbacks(t *testing.T) {
	f := newFixture(t)
	f.invite(t, "i1", "g1", "alice", 0)
	f.invite(t, "i2", "gone", "ghost", time.Minute)
	f.invite(t, "i3", "g1", "carol", 2*time.Minute)

	pending, err := f.workflow.ListPending(context.Background(), "  Bob@Example.COM ")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending invitations got %d", len(pending))
	}

	want := []struct{ group, inviter string }{
		{"Hiking crew", "Alice"},
		{UnknownGroupName, UnknownInviter},
		{"Hiking crew", "carol@example.com"},
	}
	for i, w := range want {
		if pending[i].GroupName != w.group || pending[i].InviterName != w.inviter {
			t.Fatalf("item %d: expected %+v got %q/%q", i, w, pending[i].GroupName, pending[i].InviterName)
		}
	}
}

func TestListPendingCachesNames(t *testing.T) {
	f := newFixture(t)
	f.invite(t, "i1", "g1", "alice", 0)
	f.invite(t, "i2", "g1", "alice", time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := f.workflow.ListPending(context.Background(), "bob@example.com"); err != nil {
			t.Fatalf("list pending: %v", err)
		}
	}
	if f.users.calls != 1 {
		t.Fatalf("expected inviter to be loaded once got %d", f.users.calls)
	}
}

func TestListPendingRequiresEmail(t *testing.T) {
	f := newFixture(t)
	if _, err := f.workflow.ListPending(context.Background(), "  "); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation failure got %v", err)
	}
}
