package roles

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/chat/chattest"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testConversation = chat.ConversationID("-1001")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "roles.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Assignment{}, &RoleName{}); err != nil {
		t.Fatalf("failed to migrate roles schema: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newTestResolver(t *testing.T, store RankReader, platform *chattest.Platform, superAdmin chat.ActorID) *Resolver {
	t.Helper()
	resolver, err := NewResolver(ResolverConfig{Ranks: store, Members: platform, SuperAdminID: superAdmin})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	return resolver
}

type failingRanks struct{}

func (failingRanks) Rank(context.Context, chat.ConversationID, chat.ActorID) (Rank, error) {
	return RankUser, errors.New("database locked")
}

func TestStoreDefaultsToUserRank(t *testing.T) {
	store := openTestStore(t)
	rank, err := store.Rank(context.Background(), testConversation, "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rank != RankUser {
		t.Fatalf("expected default rank 0, got %d", rank)
	}
}

func TestStoreSetRankUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.SetRank(ctx, testConversation, "42", RankModerator); err != nil {
		t.Fatalf("set rank failed: %v", err)
	}
	if err := store.SetRank(ctx, testConversation, "42", RankAssistant); err != nil {
		t.Fatalf("second set rank failed: %v", err)
	}
	rank, err := store.Rank(ctx, testConversation, "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rank != RankAssistant {
		t.Fatalf("expected rank 3, got %d", rank)
	}
	assignments, err := store.ListRanks(ctx, testConversation)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("expected a single assignment, got %d", len(assignments))
	}
	other, _ := store.Rank(ctx, "-2002", "42")
	if other != RankUser {
		t.Fatalf("expected ranks to be scoped per conversation")
	}
}

func TestAuthorizeRequiresRankAdminOrSuperAdmin(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	platform := chattest.NewPlatform()
	platform.SetStatus("admin", chat.MemberStatusAdministrator)
	if err := store.SetRank(ctx, testConversation, "mod", RankModerator); err != nil {
		t.Fatalf("set rank failed: %v", err)
	}
	resolver := newTestResolver(t, store, platform, "root")

	cases := []struct {
		actor    chat.ActorID
		minRank  Rank
		expected bool
	}{
		{actor: "nobody", minRank: RankModerator, expected: false},
		{actor: "mod", minRank: RankModerator, expected: true},
		{actor: "mod", minRank: RankOwner, expected: false},
		{actor: "admin", minRank: RankOwner, expected: true},
		{actor: "root", minRank: RankOwner, expected: true},
	}
	for _, testCase := range cases {
		if got := resolver.Authorize(ctx, testCase.actor, testConversation, testCase.minRank); got != testCase.expected {
			t.Fatalf("actor %s min %d: expected %v, got %v", testCase.actor, testCase.minRank, testCase.expected, got)
		}
	}
}

func TestAuthorizeSoftFailsOnLookupErrors(t *testing.T) {
	ctx := context.Background()
	platform := chattest.NewPlatform()
	platform.SetStatus("admin", chat.MemberStatusCreator)
	resolver := newTestResolver(t, failingRanks{}, platform, "")

	if !resolver.Authorize(ctx, "admin", testConversation, RankModerator) {
		t.Fatalf("expected platform admin check to succeed despite rank lookup failure")
	}
	if resolver.Authorize(ctx, "nobody", testConversation, RankModerator) {
		t.Fatalf("expected lookup failure not to grant authorization")
	}

	store := openTestStore(t)
	if err := store.SetRank(ctx, testConversation, "mod", RankModerator); err != nil {
		t.Fatalf("set rank failed: %v", err)
	}
	platform.Fail("MemberStatus", errors.New("platform unavailable"))
	resolver = newTestResolver(t, store, platform, "")
	if !resolver.Authorize(ctx, "mod", testConversation, RankModerator) {
		t.Fatalf("expected stored rank to authorize despite platform failure")
	}
	if resolver.Authorize(ctx, "admin", testConversation, RankModerator) {
		t.Fatalf("expected platform failure not to grant authorization")
	}
}

func TestResolveCombinesSources(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	platform := chattest.NewPlatform()
	platform.SetStatus("admin", chat.MemberStatusAdministrator)
	if err := store.SetRank(ctx, testConversation, "senior", RankSeniorMod); err != nil {
		t.Fatalf("set rank failed: %v", err)
	}
	resolver := newTestResolver(t, store, platform, "root")

	if rank := resolver.Resolve(ctx, "senior", testConversation); rank != RankSeniorMod {
		t.Fatalf("expected stored rank 2, got %d", rank)
	}
	if rank := resolver.Resolve(ctx, "admin", testConversation); rank != MaxRank {
		t.Fatalf("expected platform admin to resolve to max rank, got %d", rank)
	}
	if rank := resolver.Resolve(ctx, "root", testConversation); rank != MaxRank {
		t.Fatalf("expected super admin to resolve to max rank, got %d", rank)
	}
	if rank := resolver.Resolve(ctx, "nobody", testConversation); rank != RankUser {
		t.Fatalf("expected default rank, got %d", rank)
	}
}

func TestServiceAssignRankRequiresOwner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.SetRank(ctx, testConversation, "assistant", RankAssistant); err != nil {
		t.Fatalf("set rank failed: %v", err)
	}
	resolver := newTestResolver(t, store, chattest.NewPlatform(), "root")
	service, err := NewService(ServiceConfig{Store: store, Authorizer: resolver})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if _, err := service.AssignRank(ctx, "assistant", testConversation, "target", 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for rank 3 actor, got %v", err)
	}

	rank, err := service.AssignRank(ctx, "root", testConversation, "target", 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rank != RankOwner {
		t.Fatalf("expected clamped rank 4, got %d", rank)
	}

	stored, name, err := service.DescribeRank(ctx, testConversation, "target")
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if stored != RankOwner || name != "Owner" {
		t.Fatalf("unexpected description %d %q", stored, name)
	}

	if err := service.RemoveRank(ctx, "root", testConversation, "target"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	stored, _, _ = service.DescribeRank(ctx, testConversation, "target")
	if stored != RankUser {
		t.Fatalf("expected removed rank to read as 0, got %d", stored)
	}
}

func TestServiceRenameRoles(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	resolver := newTestResolver(t, store, chattest.NewPlatform(), "root")
	service, err := NewService(ServiceConfig{Store: store, Authorizer: resolver})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if _, err := service.RenameRoles(ctx, "nobody", testConversation, "1:Helper"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := service.RenameRoles(ctx, "root", testConversation, "garbage"); !errors.Is(err, ErrInvalidRoleNames) {
		t.Fatalf("expected invalid role names, got %v", err)
	}
	updated, err := service.RenameRoles(ctx, "root", testConversation, "1: Helper ,4:Boss,9:Nope")
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 labels updated, got %d", updated)
	}
	if name := service.RoleName(ctx, testConversation, RankModerator); name != "Helper" {
		t.Fatalf("expected renamed label, got %q", name)
	}
	if name := service.RoleName(ctx, testConversation, RankSeniorMod); name != "SeniorMod" {
		t.Fatalf("expected default label, got %q", name)
	}
}

func TestParseRoleNamesSkipsInvalidPairs(t *testing.T) {
	names := ParseRoleNames("0:User,x:Bad,5:TooHigh,2:,3:Assist")
	if len(names) != 2 {
		t.Fatalf("expected 2 parsed names, got %#v", names)
	}
	if names[RankAssistant] != "Assist" {
		t.Fatalf("unexpected label %q", names[RankAssistant])
	}
}
