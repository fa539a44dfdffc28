package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

func newTestLinks(f *fakeStore, now time.Time) *linkService {
	return &linkService{
		store:  f,
		logger: discardLogger(),
		now:    func() time.Time { return now },
	}
}

// =============================================================================
// Effective Account Resolution
// =============================================================================

func TestResolveEffectiveAccountOwner(t *testing.T) {
	f := newFakeStore()
	user, account := f.addUserAccount("owner@example.com", domain.PlanSolo, nil)

	effective, err := newTestLinks(f, time.Now()).ResolveEffectiveAccount(context.Background(), user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if effective.Account.ID != account.ID {
		t.Errorf("resolved %s, want own account %s", effective.Account.ID, account.ID)
	}
	if effective.IsLinked {
		t.Error("owner of an unlinked account must not be marked linked")
	}
}

func TestResolveEffectiveAccountLinkedOwner(t *testing.T) {
	f := newFakeStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	linkedUser, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)

	effective, err := newTestLinks(f, time.Now()).ResolveEffectiveAccount(context.Background(), linkedUser.ID)
	if err != nil {
		t.Fatal(err)
	}
	if effective.Account.ID != primary.ID {
		t.Errorf("resolved %s, want primary %s", effective.Account.ID, primary.ID)
	}
	if !effective.IsLinked {
		t.Error("inbound-linked owner must be marked linked")
	}
}

func TestResolveEffectiveAccountSeatMember(t *testing.T) {
	f := newFakeStore()
	_, account := f.addUserAccount("owner@example.com", domain.PlanFamily, nil)
	member := f.addSeatUser("member@example.com", account.ID)

	effective, err := newTestLinks(f, time.Now()).ResolveEffectiveAccount(context.Background(), member.ID)
	if err != nil {
		t.Fatal(err)
	}
	if effective.Account.ID != account.ID {
		t.Errorf("resolved %s, want seat account %s", effective.Account.ID, account.ID)
	}
	if effective.IsLinked {
		t.Error("seat membership is not an account link")
	}
}

// A seat member of a linked account reads the same entitlements as its
// owner: the inbound active link promotes both to the primary's account.
func TestResolveEffectiveAccountSeatMemberOfLinkedAccount(t *testing.T) {
	f := newFakeStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	linkedUser, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	member := f.addSeatUser("member@example.com", linked.ID)
	f.activateLinkBetween(primary.ID, linked.ID)

	links := newTestLinks(f, time.Now())

	forOwner, err := links.ResolveEffectiveAccount(context.Background(), linkedUser.ID)
	if err != nil {
		t.Fatal(err)
	}
	forMember, err := links.ResolveEffectiveAccount(context.Background(), member.ID)
	if err != nil {
		t.Fatal(err)
	}
	if forMember.Account.ID != primary.ID {
		t.Errorf("member resolved %s, want primary %s", forMember.Account.ID, primary.ID)
	}
	if !forMember.IsLinked {
		t.Error("member of an inbound-linked account must be marked linked")
	}
	if forMember.Account.ID != forOwner.Account.ID || forMember.Account.Plan != forOwner.Account.Plan {
		t.Errorf("member resolved plan %q on %s, owner plan %q on %s, want identical",
			forMember.Account.Plan, forMember.Account.ID, forOwner.Account.Plan, forOwner.Account.ID)
	}
}

func TestResolveEffectiveAccountUnknownUser(t *testing.T) {
	f := newFakeStore()
	_, err := newTestLinks(f, time.Now()).ResolveEffectiveAccount(context.Background(), uuid.New())
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.ENOTFOUND)
	}
}

// The home account ignores links: a linked owner's documents and counter
// stay on their own account even while the primary's plan applies.
func TestHomeAccountIgnoresLinks(t *testing.T) {
	f := newFakeStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	linkedUser, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)

	home, err := newTestLinks(f, time.Now()).HomeAccount(context.Background(), linkedUser.ID)
	if err != nil {
		t.Fatal(err)
	}
	if home.ID != linked.ID {
		t.Errorf("home = %s, want own account %s", home.ID, linked.ID)
	}
}

// =============================================================================
// Link Lifecycle
// =============================================================================

func TestLinkInviteRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	primaryUser, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	linkedUser, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)

	links := newTestLinks(f, now)

	link, raw, err := links.CreateLinkInvite(context.Background(), primaryUser.ID, linkedUser.Email)
	if err != nil {
		t.Fatal(err)
	}
	if link.Status != domain.LinkStatusPending {
		t.Fatalf("status = %q, want pending", link.Status)
	}

	accepted, err := links.AcceptLinkInvite(context.Background(), raw, linkedUser.ID)
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != domain.LinkStatusActive {
		t.Errorf("status = %q, want active", accepted.Status)
	}
	if accepted.LinkedAccountID == nil || *accepted.LinkedAccountID != linked.ID {
		t.Error("linked account not recorded")
	}
	if accepted.PrimaryAccountID != primary.ID {
		t.Error("primary account not preserved")
	}

	if err := links.RevokeLink(context.Background(), primaryUser.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.GetActiveLinkByLinkedAccount(context.Background(), linked.ID); err == nil {
		t.Error("revoked link still reported active")
	}
}

func TestCreateLinkInviteConflictsWithActiveLink(t *testing.T) {
	f := newFakeStore()
	primaryUser, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	_, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)

	_, _, err := newTestLinks(f, time.Now()).CreateLinkInvite(context.Background(), primaryUser.ID, "third@example.com")
	if domain.ErrorCode(err) != domain.ECONFLICT {
		t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.ECONFLICT)
	}
}

func TestAcceptLinkInviteRejections(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	primaryUser, _ := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	linkedUser, _ := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	stranger, _ := f.addUserAccount("stranger@example.com", domain.PlanSolo, nil)
	seatOnly := f.addSeatUser("seat@example.com", uuid.New())

	links := newTestLinks(f, now)
	_, raw, err := links.CreateLinkInvite(context.Background(), primaryUser.ID, linkedUser.Email)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("unknown token", func(t *testing.T) {
		_, err := links.AcceptLinkInvite(context.Background(), "bogus", linkedUser.ID)
		if domain.ErrorCode(err) != domain.ENOTFOUND {
			t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.ENOTFOUND)
		}
	})

	t.Run("email mismatch", func(t *testing.T) {
		_, err := links.AcceptLinkInvite(context.Background(), raw, stranger.ID)
		if domain.ErrorCode(err) != domain.EFORBIDDEN {
			t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.EFORBIDDEN)
		}
	})

	t.Run("accepting user owns no account", func(t *testing.T) {
		seatOnly.Email = linkedUser.Email // pass the email check, fail on ownership
		_, err := links.AcceptLinkInvite(context.Background(), raw, seatOnly.ID)
		seatOnly.Email = "seat@example.com"
		if domain.ErrorCode(err) != domain.EINVALID {
			t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.EINVALID)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired := newTestLinks(f, now.Add(domain.LinkTokenDuration+time.Hour))
		_, err := expired.AcceptLinkInvite(context.Background(), raw, linkedUser.ID)
		if domain.ErrorCode(err) != domain.EGONE {
			t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.EGONE)
		}
	})
}

func TestAcceptLinkInviteSelfLink(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	primaryUser, _ := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)

	links := newTestLinks(f, now)
	_, raw, err := links.CreateLinkInvite(context.Background(), primaryUser.ID, primaryUser.Email)
	if err != nil {
		t.Fatal(err)
	}

	_, err = links.AcceptLinkInvite(context.Background(), raw, primaryUser.ID)
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.EINVALID)
	}
}

func TestRevokeLinkWithoutActiveLink(t *testing.T) {
	f := newFakeStore()
	primaryUser, _ := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)

	err := newTestLinks(f, time.Now()).RevokeLink(context.Background(), primaryUser.ID)
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.ENOTFOUND)
	}
}
